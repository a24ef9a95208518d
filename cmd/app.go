package cmd

import (
	"context"
	"fmt"

	assistantApp "github.com/AzielCF/az-inbox/assistant/application"
	"github.com/AzielCF/az-inbox/assistant/providers"
	coreconfig "github.com/AzielCF/az-inbox/core/config"
	coreDB "github.com/AzielCF/az-inbox/core/database"
	inboxApp "github.com/AzielCF/az-inbox/inbox/application"
	inboxDomain "github.com/AzielCF/az-inbox/inbox/domain"
	inboxRepo "github.com/AzielCF/az-inbox/inbox/repository"
	"github.com/AzielCF/az-inbox/infrastructure/gateway"
	"github.com/AzielCF/az-inbox/infrastructure/speech"
	"github.com/AzielCF/az-inbox/infrastructure/valkey"
	"github.com/AzielCF/az-inbox/pkg/crypto"
	"github.com/AzielCF/az-inbox/pkg/msgworker"
	"github.com/AzielCF/az-inbox/pkg/retry"
	"github.com/AzielCF/az-inbox/pkg/utils"
	tenantRepo "github.com/AzielCF/az-inbox/tenant/repository"
	"github.com/AzielCF/az-inbox/ui/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// application owns every long-lived dependency. Components receive what they
// need through their constructors; only the command layer sees this struct.
type application struct {
	cfg      *coreconfig.Config
	serverID string

	db     *gorm.DB
	valkey *valkey.Client
	pool   *msgworker.Pool
	hub    *websocket.Hub

	messages  *inboxRepo.MessageGormRepository
	debounce  *inboxRepo.DebounceGormRepository
	directory *tenantRepo.DirectoryGormRepository

	scheduler  *inboxApp.DebounceScheduler
	ingest     *inboxApp.IngestService
	dispatcher *inboxApp.Dispatcher
	invoker    *assistantApp.Invoker
	processor  *assistantApp.BatchProcessor
}

// newApplication opens storage and builds the pipeline. withHub adds the live
// websocket feed, which only the HTTP service serves.
func newApplication(ctx context.Context, cfg *coreconfig.Config, withHub bool) (*application, error) {
	a := &application{
		cfg:      cfg,
		serverID: utils.GetPersistentServerID(cfg.App.ServerID, cfg.App.StoragePath),
	}

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	if cfg.Database.ValkeyEnabled {
		a.valkey, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			// the database alone is enough for correctness
			logrus.WithError(err).Warn("[VALKEY] unavailable, continuing with database only")
			a.valkey = nil
		}
	}

	a.messages = inboxRepo.NewMessageGormRepository(db)
	a.debounce = inboxRepo.NewDebounceGormRepository(db)
	cipher, err := crypto.NewCipher(cfg.App.SecretKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	a.directory = tenantRepo.NewDirectoryGormRepository(db).WithCipher(cipher)
	if err := a.migrate(ctx); err != nil {
		a.close()
		return nil, err
	}

	var events inboxDomain.EventPublisher
	if withHub {
		var bus websocket.Bus
		if a.valkey != nil {
			bus = a.valkey
		}
		a.hub = websocket.NewHub(bus, cfg.Database.ValkeyKeyPrefix+"ws_events", a.serverID)
		events = a.hub
	}

	var seen inboxDomain.SeenCache
	if a.valkey != nil {
		seen = inboxRepo.NewValkeySeenCache(a.valkey, cfg.Database.SeenTTL)
	}

	a.pool = msgworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)

	a.scheduler = inboxApp.NewDebounceScheduler(a.debounce, a.messages, a.pool, inboxApp.SchedulerConfig{
		Window:        cfg.AI.DebounceWindow,
		ClaimTTL:      cfg.AI.ClaimTTL,
		SweepInterval: cfg.AI.SweepInterval,
	})

	a.ingest = inboxApp.NewIngestService(a.directory, inboxApp.NewGuard(a.messages, seen), a.messages, a.scheduler, events, retry.DefaultPolicy)

	sendPolicy := retry.DefaultPolicy
	sendPolicy.MaxAttempts = cfg.Gateway.SendAttempts
	a.dispatcher = inboxApp.NewDispatcher(gateway.NewClient(gateway.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		APIKey:          cfg.Gateway.APIKey,
		Timeout:         cfg.Gateway.Timeout,
		RecipientServer: cfg.Gateway.RecipientServer,
	}), a.messages, events, inboxApp.DispatcherConfig{
		Policy:     sendPolicy,
		RatePerSec: cfg.Gateway.SendRatePerSec,
		Burst:      cfg.Gateway.SendBurst,
	})

	var synth assistantApp.Synthesizer
	if cfg.Speech.URL != "" {
		synth = speech.NewClient(cfg.Speech.URL, cfg.Speech.APIKey, cfg.Speech.Timeout)
	}
	a.invoker = assistantApp.NewInvoker(a.directory, a.messages, providers.NewRegistry(), synth, assistantApp.InvokerConfig{
		Limits: assistantApp.PromptLimits{
			MaxSystemChars:         cfg.AI.MaxSystemPromptChars,
			MaxHistoryMessages:     cfg.AI.MaxHistoryMessages,
			MaxHistoryMessageChars: cfg.AI.MaxHistoryMessageChars,
			MaxUserChars:           cfg.AI.MaxUserTurnChars,
		},
		Timeout: cfg.AI.LLMTimeout,
		Policy: retry.Policy{
			MaxAttempts:     cfg.AI.MaxAttempts,
			InitialInterval: cfg.AI.BackoffInitial,
			MaxInterval:     cfg.AI.BackoffMax,
			Multiplier:      2,
		},
		DefaultFallback: cfg.AI.DefaultFallback,
	})

	a.processor = assistantApp.NewBatchProcessor(a.messages, a.invoker, a.dispatcher)
	a.scheduler.SetHandler(a.processor.Handle)

	return a, nil
}

func (a *application) migrate(ctx context.Context) error {
	if err := a.messages.Init(ctx); err != nil {
		return fmt.Errorf("migrate inbox tables: %w", err)
	}
	if err := a.directory.Init(ctx); err != nil {
		return fmt.Errorf("migrate tenant tables: %w", err)
	}
	return nil
}

// start launches the background parts: worker pool, scheduler sweep and hub.
func (a *application) start(ctx context.Context) error {
	a.pool.Start(ctx)
	if a.hub != nil {
		go a.hub.Run()
	}
	return a.scheduler.Start()
}

// close stops everything in reverse dependency order. Queued batches finish
// before the database is closed.
func (a *application) close() {
	logrus.Info("[APP] Stopping application...")
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	if a.valkey != nil {
		a.valkey.Close()
	}
	if a.db != nil {
		coreDB.Close(a.db)
	}
	logrus.Info("[APP] Application stopped cleanly.")
}
