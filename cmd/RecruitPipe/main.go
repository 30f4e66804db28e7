// Command RecruitPipe runs the SMS recruiting conversation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/RecruitPipe/internal/api"
	"github.com/BTreeMap/RecruitPipe/internal/genai"
	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/store"
	"github.com/BTreeMap/RecruitPipe/internal/twiliosms"
)

const (
	// DefaultStateDir is where the SQLite database, lock file and debug dumps live.
	DefaultStateDir = "/var/lib/recruitpipe"
	// DefaultDBFileName is the SQLite database filename inside the state directory.
	DefaultDBFileName = "recruitpipe.db"
)

// Config holds the environment configuration.
type Config struct {
	StateDir    string `env:"RECRUITPIPE_STATE_DIR" envDefault:"/var/lib/recruitpipe"`
	DatabaseURL string `env:"DATABASE_URL"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"debug"`

	LLMProvider string        `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIKey   string        `env:"OPENAI_API_KEY"`
	GeminiKey   string        `env:"GEMINI_API_KEY"`
	LLMModel    string        `env:"LLM_MODEL"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"8s"`
	LLMDebug    bool          `env:"LLM_DEBUG"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM_NUMBER"`
	TwilioPollCron   string `env:"TWILIO_POLL_CRON"`
	WebhookBaseURL   string `env:"WEBHOOK_BASE_URL"`
	DryRun           bool   `env:"DRY_RUN"`

	SkipBusinessHours   bool          `env:"SKIP_BUSINESS_HOURS"`
	PerPersonMinSeconds int           `env:"PER_PERSON_MIN_SECONDS" envDefault:"90"`
	DNCPhrases          []string      `env:"DNC_PHRASES" envSeparator:","`
	TemplatesFile       string        `env:"TEMPLATES_FILE"`
	BusinessHoursZone   string        `env:"BUSINESS_HOURS_TZ" envDefault:"Europe/Vilnius"`
	ResponseWorkers     int           `env:"RESPONSE_WORKERS" envDefault:"8"`
	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`

	SheetsSpreadsheetID string `env:"GSHEETS_SPREADSHEET_ID"`
	GoogleCredentials   string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	SendgridKey         string `env:"SENDGRID_API_KEY"`
	HandoffFrom         string `env:"HANDOFF_EMAIL_FROM"`
	HandoffTo           string `env:"HANDOFF_EMAIL_TO"`

	RedisAddr    string `env:"REDIS_ADDR"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(1)
	}
	initializeLogger(config.LogLevel)

	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping RecruitPipe")
	slog.Debug("Final configuration", "state_dir", config.StateDir, "dsn_set", config.DatabaseURL != "",
		"api_addr", config.APIAddr, "llm_provider", config.LLMProvider, "dry_run", config.DryRun)
	if err := run(ctx, config); err != nil {
		slog.Error("RecruitPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RecruitPipe exited successfully")
}

// initializeLogger installs a text handler on stdout. Unknown levels fall back to debug.
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil || level == "" {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// loadEnvironmentConfig loads .env when present and parses the environment.
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var config Config
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("failed to parse environment: %w", err)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"RECRUITPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"TWILIO_SET", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"GSHEETS_SET", config.SheetsSpreadsheetID != "",
		"REDIS_ADDR", config.RedisAddr)
	return config, nil
}

// parseCommandLineFlags applies flags on top of the environment configuration.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	envStateDir := config.StateDir

	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory (overrides $RECRUITPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "database DSN, postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level (overrides $LOG_LEVEL)")
	fs.StringVar(&config.LLMProvider, "llm-provider", config.LLMProvider, "openai or gemini (overrides $LLM_PROVIDER)")
	fs.StringVar(&config.LLMModel, "llm-model", config.LLMModel, "model name (overrides $LLM_MODEL)")
	fs.StringVar(&config.TemplatesFile, "templates", config.TemplatesFile, "YAML templates file (overrides $TEMPLATES_FILE)")
	fs.BoolVar(&config.DryRun, "dry-run", config.DryRun, "log outbound SMS instead of sending (overrides $DRY_RUN)")
	fs.BoolVar(&config.SkipBusinessHours, "skip-business-hours", config.SkipBusinessHours, "allow outreach at any hour (overrides $SKIP_BUSINESS_HOURS)")
	fs.IntVar(&config.ResponseWorkers, "workers", config.ResponseWorkers, "inbound worker count (overrides $RESPONSE_WORKERS)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// The default SQLite path follows a state directory given on the command line.
	if config.DatabaseURL == defaultDSN && config.StateDir != envStateDir {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "state_dir", config.StateDir)
	}
	slog.Debug("flags parsed", "state_dir", config.StateDir, "api_addr", config.APIAddr,
		"llm_provider", config.LLMProvider, "dry_run", config.DryRun, "workers", config.ResponseWorkers)
	return nil
}

// ensureDirectoriesExist creates the state directory and, for SQLite, the database directory.
func ensureDirectoriesExist(config Config) error {
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", config.StateDir, err)
	}
	if store.DetectDSNType(config.DatabaseURL) != store.DriverPostgres {
		dir := filepath.Dir(config.DatabaseURL)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options.
func buildStoreOptions(config Config) []store.Option {
	if config.DatabaseURL == "" {
		return nil
	}
	if store.DetectDSNType(config.DatabaseURL) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN", "dsn_type", "postgres")
		return []store.Option{store.WithPostgresDSN(config.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN", "db_path", config.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(config.DatabaseURL)}
}

// llmAPIKey returns the key of the configured provider.
func llmAPIKey(config Config) string {
	if strings.EqualFold(config.LLMProvider, "gemini") {
		return config.GeminiKey
	}
	return config.OpenAIKey
}

// buildGenAIOptions constructs model configuration options.
func buildGenAIOptions(config Config) []genai.Option {
	var opts []genai.Option
	if key := llmAPIKey(config); key != "" {
		opts = append(opts, genai.WithAPIKey(key))
	}
	if config.LLMModel != "" {
		opts = append(opts, genai.WithModel(config.LLMModel))
	}
	if config.LLMDebug {
		opts = append(opts, genai.WithDebugMode(true, config.StateDir))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options. The status callback is set only
// when the public webhook base is known.
func buildTwilioOptions(config Config) []twiliosms.Option {
	opts := []twiliosms.Option{
		twiliosms.WithAccountSID(config.TwilioAccountSID),
		twiliosms.WithAuthToken(config.TwilioAuthToken),
		twiliosms.WithFrom(config.TwilioFrom),
	}
	if config.WebhookBaseURL != "" {
		opts = append(opts, twiliosms.WithStatusCallback(strings.TrimRight(config.WebhookBaseURL, "/")+messaging.StatusWebhookPath))
	}
	return opts
}

// buildSMSOptions constructs SMS service options.
func buildSMSOptions(config Config, dryRun bool) []messaging.SMSOption {
	opts := []messaging.SMSOption{messaging.WithDryRun(dryRun)}
	if config.TwilioPollCron != "" && !dryRun {
		opts = append(opts, messaging.WithPollSchedule(config.TwilioPollCron))
	}
	if config.WebhookBaseURL != "" && config.TwilioAuthToken != "" {
		opts = append(opts, messaging.WithWebhookValidation(config.TwilioAuthToken, strings.TrimRight(config.WebhookBaseURL, "/")))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options.
func buildAPIOptions(config Config) []api.Option {
	var opts []api.Option
	if config.APIAddr != "" {
		opts = append(opts, api.WithAddr(config.APIAddr))
	}
	return opts
}

// twilioConfigured reports whether real SMS sending is possible.
func twilioConfigured(config Config) bool {
	return config.TwilioAccountSID != "" && config.TwilioAuthToken != "" && config.TwilioFrom != ""
}

var errUnknownProvider = errors.New("unknown LLM provider")
