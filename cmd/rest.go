package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	coreconfig "github.com/AzielCF/az-inbox/core/config"
	"github.com/AzielCF/az-inbox/ui/rest"
	"github.com/AzielCF/az-inbox/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the webhook, the assistant trigger and the debounce scheduler over http",
	Run:   restServer,
}

func init() {
	restCmd.Flags().String("basic-auth", "", "Basic auth for API (format: user:pass,user2:pass2)")
	rootCmd.AddCommand(restCmd)
}

func restServer(cmd *cobra.Command, _ []string) {
	cfg := coreconfig.Global
	if baFlag, _ := cmd.Flags().GetString("basic-auth"); baFlag != "" {
		cfg.App.BasicAuth = strings.Split(baFlag, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, true)
	if err != nil {
		logrus.Fatalf("[APP] %v", err)
	}
	if err := app.start(ctx); err != nil {
		app.close()
		logrus.Fatalf("[APP] %v", err)
	}

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               16 * 1024 * 1024,
		Network:                 "tcp",
		AppName:                 "Az-Inbox",
		DisableStartupMessage:   true,
		ServerHeader:            "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}

	server := fiber.New(fiberConfig)
	server.Use(requestid.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.App.CorsOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Webhook-Secret, X-Request-ID",
	}))
	server.Use(middleware.Recovery())
	server.Use(helmet.New(helmet.Config{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "no-referrer",
	}))
	if cfg.App.Debug {
		server.Use(logger.New())
	}

	base := server.Group(cfg.App.BasePath)

	// Gateway webhooks and the metrics scrape stay outside basic auth.
	rest.InitRestWebhook(base, app.ingest, cfg.Gateway.WebhookSecret)
	rest.InitRestMetrics(base)

	apiGroup := base.Group("/api")
	apiGroup.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if len(cfg.App.BasicAuth) > 0 {
		account := make(map[string]string)
		for _, basicAuth := range cfg.App.BasicAuth {
			ba := strings.SplitN(basicAuth, ":", 2)
			if len(ba) != 2 {
				logrus.Fatalln("Basic auth is not valid, please this following format <user>:<secret>")
			}
			account[ba[0]] = ba[1]
		}
		apiGroup.Use(basicauth.New(basicauth.Config{
			Users: account,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
		}))
	} else {
		logrus.Warn("[REST] APP_BASIC_AUTH is empty, the /api group is not protected")
	}

	checks := map[string]rest.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := app.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if app.valkey != nil {
		checks["valkey"] = app.valkey.Ping
	}
	rest.InitRestHealth(apiGroup, checks, cfg.App.Version)
	rest.InitRestAssistant(apiGroup, app.invoker)
	rest.InitRestDebounce(apiGroup, app.scheduler)
	rest.InitRestWorkerPool(apiGroup, app.pool)
	rest.InitRestSettings(apiGroup, coreconfig.GetAllSettings)
	app.hub.RegisterRoutes(apiGroup)

	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	go func() {
		<-ctx.Done()
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	logrus.Infof("[REST] listening on :%s (server %s)", cfg.App.Port, app.serverID)
	if err := server.Listen(":" + cfg.App.Port); err != nil {
		logrus.Errorf("[REST] Failed to start: %v", err)
	}
	app.close()
}
