package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadqualifier/leadqualifier/internal/abandon"
	"github.com/leadqualifier/leadqualifier/internal/api"
	"github.com/leadqualifier/leadqualifier/internal/crm"
	"github.com/leadqualifier/leadqualifier/internal/delivery"
	"github.com/leadqualifier/leadqualifier/internal/digest"
	"github.com/leadqualifier/leadqualifier/internal/flow"
	"github.com/leadqualifier/leadqualifier/internal/genai"
	"github.com/leadqualifier/leadqualifier/internal/lockfile"
	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/otp"
	"github.com/leadqualifier/leadqualifier/internal/ratelimit"
	"github.com/leadqualifier/leadqualifier/internal/scheduler"
	"github.com/leadqualifier/leadqualifier/internal/session"
	"github.com/leadqualifier/leadqualifier/internal/store"
	"github.com/leadqualifier/leadqualifier/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for lead qualifier state data
	DefaultStateDir = "/var/lib/leadqualifier"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadqualifier.db"
	// SweepInterval is how often idle sessions are reconciled into lead records
	SweepInterval = 15 * time.Minute
	// DigestCron fires the daily abandoned-lead digest at 06:00
	DigestCron = "0 6 * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Lead qualifier failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Lead qualifier exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	SessionSecret   string
	DigestRecipient string
	CRMBaseURL      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	apiAddr         *string
	sessionSecret   *string
	digestRecipient *string
	crmBaseURL      *string
}

// initializeLogger sets up structured logging. LOG_DEBUG=false drops the
// level to info for quieter production logs.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LOG_DEBUG", true) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("LEADQUALIFIER_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		SessionSecret:   os.Getenv("SESSION_SECRET"),
		DigestRecipient: os.Getenv("DIGEST_RECIPIENT"),
		CRMBaseURL:      os.Getenv("CRM_BASE_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADQUALIFIER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADQUALIFIER_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SESSION_SECRET_SET", config.SessionSecret != "",
		"DIGEST_RECIPIENT_SET", config.DigestRecipient != "",
		"CRM_BASE_URL_SET", config.CRMBaseURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for lead qualifier data (overrides $LEADQUALIFIER_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the lead store (overrides $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sessionSecret:   flag.String("session-secret", config.SessionSecret, "HMAC secret for client-held state tokens (overrides $SESSION_SECRET)"),
		digestRecipient: flag.String("digest-recipient", config.DigestRecipient, "internal email for digests and alerts (overrides $DIGEST_RECIPIENT)"),
		crmBaseURL:      flag.String("crm-base-url", config.CRMBaseURL, "CRM API base URL (overrides $CRM_BASE_URL)"),
	}

	flag.Parse()

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// newLeadStore opens the backend matching the DSN type.
func newLeadStore(flags Flags) (store.LeadStore, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

func run(flags Flags) error {
	// Guard the state directory against a second instance.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	leadStore, err := newLeadStore(flags)
	if err != nil {
		return err
	}
	defer leadStore.Close()

	// Delivery transports read their own credentials from the environment.
	emailSender, err := delivery.NewEmailSender()
	if err != nil {
		return err
	}
	var sms delivery.ChannelSender
	if smsSender, err := delivery.NewSMSSender(); err != nil {
		slog.Warn("SMS transport not configured; phone verification will fail to deliver", "error", err)
	} else {
		sms = smsSender
	}
	codeDelivery := delivery.NewService(emailSender, sms)

	var codecOpts []session.Option
	if *flags.sessionSecret != "" {
		codecOpts = append(codecOpts, session.WithSecret([]byte(*flags.sessionSecret)))
	}
	codec, err := session.NewCodec(codecOpts...)
	if err != nil {
		return err
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	answerer, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	var crmOpts []crm.Option
	if *flags.crmBaseURL != "" {
		crmOpts = append(crmOpts, crm.WithBaseURL(*flags.crmBaseURL))
	}
	crmClient, err := crm.NewClient(crmOpts...)
	if err != nil {
		return err
	}

	tracker := session.NewTracker()
	codes := otp.NewManager(otp.WithSender(codeDelivery))

	// The digest reporter doubles as the hot-lead alerter; both are optional
	// and gated on a recipient being configured.
	var reporter *digest.Reporter
	var reconcilerOpts []abandon.Option
	if *flags.digestRecipient != "" {
		reporter, err = digest.NewReporter(leadStore, emailSender, digest.WithRecipient(*flags.digestRecipient))
		if err != nil {
			return err
		}
		reconcilerOpts = append(reconcilerOpts, abandon.WithAlerter(reporter))
	} else {
		slog.Warn("No digest recipient configured; daily digests and hot-lead alerts are disabled")
	}
	reconciler := abandon.NewReconciler(leadStore, tracker, reconcilerOpts...)

	conversation := flow.NewConversation(ratelimit.NewLimiter(), codes, answerer, crmClient, reconciler)

	// Background jobs: code reaper, idle-session sweep, daily digest.
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sched.AddEvery(models.ReapInterval, func() {
		if n := codes.Reap(); n > 0 {
			slog.Debug("Reaped verification codes", "count", n)
		}
	})
	sweepEvery := util.ParseDurationEnv("LEADQUALIFIER_SWEEP_INTERVAL", SweepInterval)
	sched.AddEvery(sweepEvery, func() {
		if _, err := reconciler.Sweep(context.Background()); err != nil {
			slog.Error("Abandonment sweep failed", "error", err)
		}
	})
	if reporter != nil {
		if err := sched.AddJob(DigestCron, func() {
			if err := reporter.RunDaily(context.Background()); err != nil {
				slog.Error("Daily digest failed", "error", err)
			}
		}); err != nil {
			return err
		}
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(conversation, codec, tracker, reconciler, leadStore, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
