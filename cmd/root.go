package cmd

import (
	"os"
	"time"

	coreconfig "github.com/AzielCF/az-inbox/core/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var vp = coreconfig.NewViper()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-inbox",
	Short: "WhatsApp inbox with debounced AI replies",
	Long: `az-inbox receives WhatsApp gateway webhooks, threads them into tickets
and answers each burst of customer messages with the client's AI assistant.`,
}

func init() {
	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initConfig)
}

func initFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("port", "p", "", "change port number with --port <number> | example: --port=8080")
	flags.BoolP("debug", "d", false, "enable debug logging --debug <true/false> | example: --debug=true")
	flags.String("db-driver", "", `database driver --db-driver <sqlite|postgres> | example: --db-driver=postgres`)
	flags.Int("debounce-ms", 0, "debounce window in milliseconds --debounce-ms <number> | example: --debounce-ms=10000")
	flags.Int("message-workers", 0, "number of concurrent batch workers --message-workers <number> | example: --message-workers=30 (default: 20)")

	bind := map[string]string{
		"app_port":                 "port",
		"app_debug":                "debug",
		"db_driver":                "db-driver",
		"ai_debounce_ms":           "debounce-ms",
		"message_worker_pool_size": "message-workers",
	}
	for key, name := range bind {
		if err := vp.BindPFlag(key, flags.Lookup(name)); err != nil {
			logrus.Fatalf("bind flag %s: %v", name, err)
		}
	}
}

// initConfig loads configuration from flags, environment and .env.
func initConfig() {
	cfg, err := coreconfig.LoadConfig(vp)
	if err != nil {
		logrus.Fatalf("[CONFIG] %v", err)
	}
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
