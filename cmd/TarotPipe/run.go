package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/BTreeMap/TarotPipe/internal/api"
	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/classifier"
	"github.com/BTreeMap/TarotPipe/internal/events"
	"github.com/BTreeMap/TarotPipe/internal/flow"
	"github.com/BTreeMap/TarotPipe/internal/genai"
	"github.com/BTreeMap/TarotPipe/internal/history"
	"github.com/BTreeMap/TarotPipe/internal/lockfile"
	"github.com/BTreeMap/TarotPipe/internal/messaging"
	"github.com/BTreeMap/TarotPipe/internal/payment"
	"github.com/BTreeMap/TarotPipe/internal/reading"
	"github.com/BTreeMap/TarotPipe/internal/recovery"
	"github.com/BTreeMap/TarotPipe/internal/scheduler"
	"github.com/BTreeMap/TarotPipe/internal/secrets"
	"github.com/BTreeMap/TarotPipe/internal/store"
	"github.com/BTreeMap/TarotPipe/internal/telegram"
	"github.com/BTreeMap/TarotPipe/internal/tone"
	"github.com/BTreeMap/TarotPipe/internal/twiliowhatsapp"
)

const shutdownTimeout = 15 * time.Second

// run wires every module and blocks until SIGINT/SIGTERM or a server failure.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return fmt.Errorf("failed to lock state directory: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state lock", "error", err)
		}
	}()

	cat, err := loadCatalog(*flags.catalogFile)
	if err != nil {
		return err
	}

	conversations, dedup, err := openStores(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := conversations.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	token, err := resolveBotToken(ctx, flags)
	if err != nil {
		return err
	}
	var bot telegram.Sender
	if token != "" {
		bot, err = telegram.NewClient(buildTelegramOptions(flags, token)...)
		if err != nil {
			return fmt.Errorf("failed to create Telegram client: %w", err)
		}
	}

	notifier, err := buildNotifier(flags, bot)
	if err != nil {
		return err
	}

	publisher, closePublisher := buildPublisher(flags)
	defer closePublisher()

	reader := buildReader(flags, cat)

	machine, err := flow.NewMachine(flow.NewStoreBasedStateManager(conversations), cat,
		flow.WithClassifier(classifier.New(classifier.WithKeywords(cat.Keywords()))),
		flow.WithSelector(history.NewSelector(history.WithWindow(*flags.historyWindow))),
		flow.WithNaturalizer(tone.Default()),
		flow.WithPayment(buildPaymentProvider(flags)),
		flow.WithCards(reader.Deck()),
		flow.WithFastModeThreshold(*flags.fastThreshold),
	)
	if err != nil {
		return fmt.Errorf("failed to create state machine: %w", err)
	}

	sched := scheduler.NewScheduler(notifier, buildSchedulerOptions(flags)...)
	timer := flow.NewSimpleTimer()
	defer timer.Stop()

	handler, err := messaging.NewResponseHandler(machine, dedup, sched,
		messaging.WithEvents(publisher),
		messaging.WithFulfillment(timer, reader, *flags.fulfillmentDelay),
	)
	if err != nil {
		return fmt.Errorf("failed to create response handler: %w", err)
	}

	rm := recovery.NewManager(conversations)
	rm.RegisterFulfillmentRecovery(handler.ResumeFulfillment)
	rm.RegisterRecoverable(recovery.PendingReadings{})
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors", "error", err)
	}

	cron := scheduler.NewCron()
	defer cron.Stop()
	sweeper := &scheduler.Sweeper{Store: conversations, Dedup: dedup, IdleTTL: *flags.idleTTL}
	if err := sweeper.Register(cron, *flags.sweepSchedule); err != nil {
		return err
	}

	server := api.NewServer(handler, bot, conversations, buildAPIOptions(flags)...)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	slog.Info("Loading response catalog", "path", path)
	return catalog.Load(path)
}

// openStores picks the first configured backend: SQL DSN, Redis, DynamoDB,
// then in-memory. Backends without their own deduplicator get the in-memory one.
func openStores(ctx context.Context, flags Flags) (store.ConversationStore, store.Deduplicator, error) {
	storeOpts := buildStoreOptions(flags)
	var conversations store.ConversationStore

	switch {
	case *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "postgres":
		st, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Postgres store: %w", err)
		}
		conversations = st
	case *flags.dbDSN != "":
		st, err := store.NewSQLiteStore(storeOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		conversations = st
	case *flags.redisURL != "":
		st, err := store.NewRedisStore(*flags.redisURL, store.WithTTL(*flags.idleTTL))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Redis store: %w", err)
		}
		conversations = st
	case *flags.dynamoTable != "":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		st, err := store.NewDynamoStore(dynamodb.NewFromConfig(cfg), storeOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open DynamoDB store: %w", err)
		}
		conversations = st
	default:
		slog.Info("No persistent store configured, using in-memory store")
		conversations = store.NewInMemoryStore()
	}

	if d, ok := conversations.(store.Deduplicator); ok {
		return conversations, d, nil
	}
	return conversations, store.NewMemoryDeduplicator(store.WithCapacity(*flags.dedupCapacity)), nil
}

// resolveBotToken prefers the SSM parameter when one is named.
func resolveBotToken(ctx context.Context, flags Flags) (string, error) {
	if *flags.botTokenParam == "" {
		return *flags.botToken, nil
	}
	ps, err := secrets.NewFromEnvironment(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create SSM client: %w", err)
	}
	token, err := secrets.Resolve(ctx, ps, *flags.botTokenParam, *flags.botToken)
	if err != nil {
		return "", fmt.Errorf("failed to resolve bot token: %w", err)
	}
	slog.Debug("Bot token resolved from SSM", "param", *flags.botTokenParam)
	return token, nil
}

func buildNotifier(flags Flags, bot telegram.Sender) (scheduler.Notifier, error) {
	if *flags.dryRun {
		slog.Info("Dry run: outbound messages are recorded, not sent")
		return messaging.NewRecordingNotifier(), nil
	}
	switch *flags.notifier {
	case "twilio":
		c, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return c, nil
	case "telegram", "":
		if bot == nil {
			return nil, errors.New("TELEGRAM_BOT_TOKEN is required for the telegram notifier")
		}
		return bot, nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", *flags.notifier)
	}
}

func buildPublisher(flags Flags) (events.Publisher, func()) {
	if *flags.natsURL == "" {
		return events.NopPublisher{}, func() {}
	}
	p, err := events.NewNatsPublisher(*flags.natsURL, *flags.natsToken)
	if err != nil {
		slog.Warn("NATS unavailable, funnel events disabled", "url", *flags.natsURL, "error", err)
		return events.NopPublisher{}, func() {}
	}
	return p, p.Close
}

func buildPaymentProvider(flags Flags) payment.Provider {
	static := payment.StaticLink(*flags.paymentURL)
	yopts := buildYookassaOptions(flags)
	if yopts == nil {
		return static
	}
	yk, err := payment.NewYookassa(yopts...)
	if err != nil {
		slog.Warn("Yookassa disabled, using static payment link", "error", err)
		return static
	}
	return payment.Fallback{Primary: yk, URL: *flags.paymentURL}
}

func buildReader(flags Flags, cat *catalog.Catalog) *reading.Reader {
	opts := []reading.Option{reading.WithCatalog(cat)}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Info("Completion service not configured, readings use static interpretations", "reason", err)
	} else {
		slog.Info("Completion service configured", "model", client.Model())
		opts = append(opts, reading.WithCompleter(client))
	}
	return reading.NewReader(opts...)
}
