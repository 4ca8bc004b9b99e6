package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TarotPipe/internal/api"
	"github.com/BTreeMap/TarotPipe/internal/flow"
	"github.com/BTreeMap/TarotPipe/internal/genai"
	"github.com/BTreeMap/TarotPipe/internal/history"
	"github.com/BTreeMap/TarotPipe/internal/messaging"
	"github.com/BTreeMap/TarotPipe/internal/payment"
	"github.com/BTreeMap/TarotPipe/internal/scheduler"
	"github.com/BTreeMap/TarotPipe/internal/store"
	"github.com/BTreeMap/TarotPipe/internal/telegram"
	"github.com/BTreeMap/TarotPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TarotPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TarotPipe state data
	DefaultStateDir = "/var/lib/tarotpipe"
	// DefaultNotifier selects the Telegram Bot API for outbound messages
	DefaultNotifier = "telegram"
	// DefaultDedupCapacity bounds the in-memory deduplicator
	DefaultDedupCapacity = 10000
	// DefaultHistoryWindow is how many recent choices the selector avoids
	DefaultHistoryWindow = history.DefaultWindow
)

func main() {
	// Load environment configuration first so the log settings apply
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	initializeLogger(*flags.logFormat, *flags.logLevel)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping TarotPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"redis_set", *flags.redisURL != "",
		"dynamodb_table", *flags.dynamoTable,
		"notifier", *flags.notifier,
		"dry_run", *flags.dryRun,
		"api_addr", *flags.apiAddr)

	if err := run(flags); err != nil {
		slog.Error("TarotPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TarotPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogFormat         string
	LogLevel          string
	StateDir          string
	APIAddr           string
	BotToken          string
	BotTokenParam     string
	TelegramAPIURL    string
	WebhookURL        string
	WebhookSecret     string
	Notifier          string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFrom        string
	PaymentURL        string
	YookassaShopID    string
	YookassaSecret    string
	YookassaReturnURL string
	PaymentSecret     string
	OpenAIKey         string
	OpenAIModel       string
	DatabaseDSN       string
	RedisURL          string
	DynamoTable       string
	NatsURL           string
	NatsToken         string
	CatalogFile       string
	SweepSchedule     string
	HistoryWindow     int
	DedupCapacity     int
	FastThreshold     time.Duration
	FulfillmentDelay  time.Duration
	IdleTTL           time.Duration
	PacingFast        bool
}

// Flags holds command line flag values
type Flags struct {
	logFormat        *string
	logLevel         *string
	stateDir         *string
	apiAddr          *string
	botToken         *string
	botTokenParam    *string
	telegramAPIURL   *string
	webhookURL       *string
	webhookSecret    *string
	notifier         *string
	twilioSID        *string
	twilioToken      *string
	twilioFrom       *string
	paymentURL       *string
	yookassaShopID   *string
	yookassaSecret   *string
	yookassaReturn   *string
	paymentSecret    *string
	openaiKey        *string
	openaiModel      *string
	dbDSN            *string
	redisURL         *string
	dynamoTable      *string
	natsURL          *string
	natsToken        *string
	catalogFile      *string
	sweepSchedule    *string
	historyWindow    *int
	dedupCapacity    *int
	fastThreshold    *time.Duration
	fulfillmentDelay *time.Duration
	idleTTL          *time.Duration
	pacingFast       *bool
	dryRun           *bool
}

// initializeLogger installs the default slog handler
func initializeLogger(format, level string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// parseLogLevel maps a level name to slog.Level, defaulting to info
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogFormat:         os.Getenv("TAROTPIPE_LOG_FORMAT"),
		LogLevel:          os.Getenv("TAROTPIPE_LOG_LEVEL"),
		StateDir:          os.Getenv("TAROTPIPE_STATE_DIR"),
		APIAddr:           os.Getenv("API_ADDR"),
		BotToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		BotTokenParam:     os.Getenv("SSM_BOT_TOKEN_PARAM"),
		TelegramAPIURL:    os.Getenv("TELEGRAM_API_URL"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		Notifier:          os.Getenv("NOTIFIER"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		PaymentURL:        os.Getenv("PAYMENT_URL"),
		YookassaShopID:    os.Getenv("YOOKASSA_SHOP_ID"),
		YookassaSecret:    os.Getenv("YOOKASSA_SECRET_KEY"),
		YookassaReturnURL: os.Getenv("YOOKASSA_RETURN_URL"),
		PaymentSecret:     os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		DatabaseDSN:       os.Getenv("DATABASE_DSN"),
		RedisURL:          os.Getenv("REDIS_URL"),
		DynamoTable:       os.Getenv("DYNAMODB_TABLE"),
		NatsURL:           os.Getenv("NATS_URL"),
		NatsToken:         os.Getenv("NATS_TOKEN"),
		CatalogFile:       os.Getenv("CATALOG_FILE"),
		SweepSchedule:     os.Getenv("SWEEP_SCHEDULE"),
		HistoryWindow:     util.ParseIntEnv("HISTORY_WINDOW", DefaultHistoryWindow),
		DedupCapacity:     util.ParseIntEnv("DEDUP_CAPACITY", DefaultDedupCapacity),
		FastThreshold:     util.ParseDurationEnv("FAST_MODE_THRESHOLD", flow.DefaultFastModeThreshold),
		FulfillmentDelay:  util.ParseDurationEnv("FULFILLMENT_DELAY", messaging.DefaultFulfillmentDelay),
		IdleTTL:           util.ParseDurationEnv("IDLE_TTL", scheduler.DefaultIdleTTL),
		PacingFast:        util.ParseBoolEnv("PACING_FAST", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TAROTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("TAROTPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	if config.Notifier == "" {
		config.Notifier = DefaultNotifier
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = scheduler.DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"TAROTPIPE_STATE_DIR", config.StateDir,
		"TELEGRAM_BOT_TOKEN_SET", config.BotToken != "",
		"SSM_BOT_TOKEN_PARAM", config.BotTokenParam,
		"WEBHOOK_URL", config.WebhookURL,
		"NOTIFIER", config.Notifier,
		"PAYMENT_URL", config.PaymentURL,
		"YOOKASSA_SHOP_ID_SET", config.YookassaShopID != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"DYNAMODB_TABLE", config.DynamoTable,
		"NATS_URL", config.NatsURL,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		logFormat:        flag.String("log-format", config.LogFormat, "log format: text or json (overrides $TAROTPIPE_LOG_FORMAT)"),
		logLevel:         flag.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $TAROTPIPE_LOG_LEVEL)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for TarotPipe data (overrides $TAROTPIPE_STATE_DIR)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		botToken:         flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		botTokenParam:    flag.String("bot-token-param", config.BotTokenParam, "SSM parameter holding the bot token (overrides $SSM_BOT_TOKEN_PARAM)"),
		telegramAPIURL:   flag.String("telegram-api-url", config.TelegramAPIURL, "Telegram Bot API base URL (overrides $TELEGRAM_API_URL)"),
		webhookURL:       flag.String("webhook-url", config.WebhookURL, "public webhook URL registered by /set_webhook (overrides $WEBHOOK_URL)"),
		webhookSecret:    flag.String("webhook-secret", config.WebhookSecret, "Telegram webhook secret token (overrides $WEBHOOK_SECRET)"),
		notifier:         flag.String("notifier", config.Notifier, "outbound transport: telegram or twilio (overrides $NOTIFIER)"),
		twilioSID:        flag.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:      flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		paymentURL:       flag.String("payment-url", config.PaymentURL, "static payment link (overrides $PAYMENT_URL)"),
		yookassaShopID:   flag.String("yookassa-shop-id", config.YookassaShopID, "Yookassa shop id (overrides $YOOKASSA_SHOP_ID)"),
		yookassaSecret:   flag.String("yookassa-secret-key", config.YookassaSecret, "Yookassa secret key (overrides $YOOKASSA_SECRET_KEY)"),
		yookassaReturn:   flag.String("yookassa-return-url", config.YookassaReturnURL, "Yookassa return URL (overrides $YOOKASSA_RETURN_URL)"),
		paymentSecret:    flag.String("payment-webhook-secret", config.PaymentSecret, "HMAC secret for payment notifications (overrides $PAYMENT_WEBHOOK_SECRET)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:      flag.String("openai-model", config.OpenAIModel, "OpenAI model for readings (overrides $OPENAI_MODEL)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseDSN, "SQLite path or Postgres DSN (overrides $DATABASE_DSN)"),
		redisURL:         flag.String("redis-url", config.RedisURL, "Redis URL (overrides $REDIS_URL)"),
		dynamoTable:      flag.String("dynamodb-table", config.DynamoTable, "DynamoDB table name (overrides $DYNAMODB_TABLE)"),
		natsURL:          flag.String("nats-url", config.NatsURL, "NATS server URL for funnel events (overrides $NATS_URL)"),
		natsToken:        flag.String("nats-token", config.NatsToken, "NATS auth token (overrides $NATS_TOKEN)"),
		catalogFile:      flag.String("catalog-file", config.CatalogFile, "YAML response catalog overriding the built-in one (overrides $CATALOG_FILE)"),
		sweepSchedule:    flag.String("sweep-schedule", config.SweepSchedule, "cron schedule for the idle conversation sweeper (overrides $SWEEP_SCHEDULE)"),
		historyWindow:    flag.Int("history-window", config.HistoryWindow, "number of recent responses avoided per chat (overrides $HISTORY_WINDOW)"),
		dedupCapacity:    flag.Int("dedup-capacity", config.DedupCapacity, "in-memory deduplicator capacity (overrides $DEDUP_CAPACITY)"),
		fastThreshold:    flag.Duration("fast-mode-threshold", config.FastThreshold, "gap below which a user is in fast mode (overrides $FAST_MODE_THRESHOLD)"),
		fulfillmentDelay: flag.Duration("fulfillment-delay", config.FulfillmentDelay, "delay before the reading is sent (overrides $FULFILLMENT_DELAY)"),
		idleTTL:          flag.Duration("idle-ttl", config.IdleTTL, "idle time after which a conversation is swept (overrides $IDLE_TTL)"),
		pacingFast:       flag.Bool("pacing-fast", config.PacingFast, "use the short pacing policy (overrides $PACING_FAST)"),
		dryRun:           flag.Bool("dry-run", false, "record outbound messages in memory instead of sending them"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"notifier", *flags.notifier,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"pacingFast", *flags.pacingFast,
		"dryRun", *flags.dryRun)

	return flags
}

// ensureDirectoriesExist creates the state directory and, for SQLite, the
// database's parent directory
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(*flags.dbDSN, "file:")))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs SQL store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	if *flags.dynamoTable != "" {
		storeOpts = append(storeOpts, store.WithTableName(*flags.dynamoTable))
	}
	return storeOpts
}

// buildTelegramOptions constructs Bot API client options
func buildTelegramOptions(flags Flags, token string) []telegram.Option {
	opts := []telegram.Option{telegram.WithToken(token)}
	if *flags.telegramAPIURL != "" {
		opts = append(opts, telegram.WithBaseURL(*flags.telegramAPIURL))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildYookassaOptions returns nil when the shop is not configured
func buildYookassaOptions(flags Flags) []payment.YookassaOption {
	if *flags.yookassaShopID == "" || *flags.yookassaSecret == "" {
		return nil
	}
	opts := []payment.YookassaOption{
		payment.WithShopID(*flags.yookassaShopID),
		payment.WithSecretKey(*flags.yookassaSecret),
	}
	if *flags.yookassaReturn != "" {
		opts = append(opts, payment.WithReturnURL(*flags.yookassaReturn))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.webhookURL != "" || *flags.webhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhook(*flags.webhookURL, *flags.webhookSecret))
	}
	if *flags.paymentSecret != "" {
		apiOpts = append(apiOpts, api.WithPaymentSecret(*flags.paymentSecret))
	}
	return apiOpts
}

// buildSchedulerOptions constructs delivery scheduler options
func buildSchedulerOptions(flags Flags) []scheduler.Option {
	var opts []scheduler.Option
	if *flags.pacingFast {
		opts = append(opts, scheduler.WithPolicy(scheduler.FastPolicy()))
	}
	return opts
}
