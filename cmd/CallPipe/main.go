package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CallPipe/internal/api"
	"github.com/BTreeMap/CallPipe/internal/dialer"
	"github.com/BTreeMap/CallPipe/internal/genai"
	"github.com/BTreeMap/CallPipe/internal/messaging"
	"github.com/BTreeMap/CallPipe/internal/store"
	"github.com/BTreeMap/CallPipe/internal/twiliovoice"
	"github.com/BTreeMap/CallPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CallPipe state data
	DefaultStateDir = "/var/lib/callpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "callpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger(util.ParseBoolEnv("CALLPIPE_DEBUG", false))

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CallPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "base_url", *flags.baseURL)
	if err := run(flags); err != nil {
		slog.Error("CallPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CallPipe exited successfully")
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	twilioClient, err := twiliovoice.NewClient(buildTwilioOptions(flags)...)
	if err != nil {
		return err
	}

	msgService := messaging.NewTwilioService(twilioClient, *flags.countryCode)

	var dispatcherOpts []messaging.DispatcherOption
	if *flags.openaiKey != "" {
		gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, messaging.WithComposer(gaClient))
		slog.Debug("GenAI follow-up composer enabled")
	} else {
		slog.Debug("No OpenAI API key, follow-up SMS uses plain summaries")
	}
	dispatcher := messaging.NewDispatcher(msgService, st, dispatcherOpts...)

	d := dialer.NewDialer(st, twilioClient, buildDialerOptions(flags)...)
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	server := api.NewServer(st, msgService, dispatcher, buildAPIOptions(flags)...)
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	BaseURL     string
	CountryCode string
	DialCron    string
	BatchSize   int
	MaxRetries  int
	TwilioSID   string
	TwilioToken string
	TwilioFrom  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	baseURL     *string
	countryCode *string
	dialCron    *string
	batchSize   *int
	maxRetries  *int
	twilioSID   *string
	twilioToken *string
	twilioFrom  *string
}

// initializeLogger sets up structured logging; $CALLPIPE_DEBUG enables
// debug-level output.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("CALLPIPE_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		BaseURL:     os.Getenv("CALLPIPE_BASE_URL"),
		CountryCode: os.Getenv("DEFAULT_COUNTRY_CODE"),
		DialCron:    os.Getenv("DIAL_SCHEDULE"),
		BatchSize:   util.ParseIntEnv("DIAL_BATCH_SIZE", 0),
		MaxRetries:  util.ParseIntEnv("MAX_ANSWER_RETRIES", 0),
		TwilioSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:  os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CALLPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("CALLPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CALLPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"CALLPIPE_BASE_URL", config.BaseURL,
		"DEFAULT_COUNTRY_CODE", config.CountryCode,
		"DIAL_SCHEDULE", config.DialCron,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_FROM_NUMBER", config.TwilioFrom)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for CallPipe data (overrides $CALLPIPE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the store (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for follow-up SMS composition (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		baseURL:     flag.String("base-url", config.BaseURL, "externally reachable base URL for Twilio webhooks (overrides $CALLPIPE_BASE_URL)"),
		countryCode: flag.String("country-code", config.CountryCode, "default country code for national phone numbers (overrides $DEFAULT_COUNTRY_CODE)"),
		dialCron:    flag.String("dial-cron", config.DialCron, "cron schedule for dial batches (overrides $DIAL_SCHEDULE)"),
		batchSize:   flag.Int("dial-batch-size", config.BatchSize, "numbers dialed per batch (overrides $DIAL_BATCH_SIZE; 0 uses the dialer default)"),
		maxRetries:  flag.Int("max-retries", config.MaxRetries, "re-prompt limit for required questions (overrides $MAX_ANSWER_RETRIES; 0 uses the engine default)"),
		twilioSID:   flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken: flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:  flag.String("twilio-from-number", config.TwilioFrom, "Twilio caller ID number (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"baseURL", *flags.baseURL,
		"countryCode", *flags.countryCode,
		"dialCron", *flags.dialCron,
		"batchSize", *flags.batchSize)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the store from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildTwilioOptions constructs Twilio client configuration options
func buildTwilioOptions(flags Flags) []twiliovoice.Option {
	var twilioOpts []twiliovoice.Option
	if *flags.twilioSID != "" {
		twilioOpts = append(twilioOpts, twiliovoice.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		twilioOpts = append(twilioOpts, twiliovoice.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		twilioOpts = append(twilioOpts, twiliovoice.WithFromNumber(*flags.twilioFrom))
	}
	return twilioOpts
}

// buildDialerOptions constructs dialer configuration options
func buildDialerOptions(flags Flags) []dialer.Option {
	var dialerOpts []dialer.Option
	if *flags.dialCron != "" {
		dialerOpts = append(dialerOpts, dialer.WithSchedule(*flags.dialCron))
	}
	if *flags.batchSize > 0 {
		dialerOpts = append(dialerOpts, dialer.WithBatchSize(*flags.batchSize))
	}
	if *flags.baseURL != "" {
		dialerOpts = append(dialerOpts, dialer.WithBaseURL(*flags.baseURL))
	}
	return dialerOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.baseURL != "" {
		apiOpts = append(apiOpts, api.WithBaseURL(*flags.baseURL))
	}
	if *flags.maxRetries > 0 {
		apiOpts = append(apiOpts, api.WithMaxRetries(*flags.maxRetries))
	}
	return apiOpts
}
