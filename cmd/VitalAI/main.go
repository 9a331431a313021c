package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/VitalAI/internal/api"
	"github.com/BTreeMap/VitalAI/internal/flow"
	"github.com/BTreeMap/VitalAI/internal/genai"
	"github.com/BTreeMap/VitalAI/internal/lockfile"
	"github.com/BTreeMap/VitalAI/internal/messaging"
	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
	"github.com/BTreeMap/VitalAI/internal/twiliowhatsapp"
	"github.com/BTreeMap/VitalAI/internal/util"
	"github.com/BTreeMap/VitalAI/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VitalAI state data
	DefaultStateDir = "/var/lib/vitalai"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	initializeLogger(*flags.logLevel)

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("VitalAI is already running", "error", err)
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	flowOpts := buildFlowOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping VitalAI with configured modules", "transport", *flags.transport, "twilio_async", *flags.twilioAsync)
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twilioOpts), "store", len(storeOpts), "genai", len(genaiOpts), "flow", len(flowOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, twilioOpts, storeOpts, genaiOpts, flowOpts, apiOpts); err != nil {
		slog.Error("VitalAI failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("VitalAI exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	WhatsAppDBDSN    string
	OpenAIKey        string
	OpenAIModel      string
	PlanTimeout      time.Duration
	PlanPromptFile   string
	APIAddr          string
	Transport        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAsync      bool
	Workers          int
	MaxReplyLength   int
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	whatsAppDBDSN  *string
	qrOutput       *string
	numeric        *bool
	openaiKey      *string
	openaiModel    *string
	planTimeout    *time.Duration
	planPromptFile *string
	apiAddr        *string
	transport      *string
	twilioAsync    *bool
	workers        *int
	maxReplyLength *int
	logLevel       *string
}

// initializeLogger sets up structured logging at the given level (default debug).
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:         os.Getenv("VITALAI_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		PlanTimeout:      util.ParseDurationEnv("PLAN_TIMEOUT", genai.DefaultTimeout),
		PlanPromptFile:   os.Getenv("PLAN_SYSTEM_PROMPT_FILE"),
		APIAddr:          os.Getenv("API_ADDR"),
		Transport:        strings.ToLower(os.Getenv("MESSAGING_TRANSPORT")),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioAsync:      util.ParseBoolEnv("TWILIO_ASYNC_REPLIES", false),
		Workers:          util.ParseIntEnv("REPLY_WORKERS", messaging.DefaultWorkers),
		MaxReplyLength:   util.ParseIntEnv("MAX_REPLY_LENGTH", models.MaxMessageLength),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = api.TransportTwilio
	}
	if config.LogLevel == "" {
		config.LogLevel = "debug"
	}

	slog.Debug("environment variables loaded",
		"VITALAI_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"PLAN_TIMEOUT", config.PlanTimeout,
		"API_ADDR", config.APIAddr,
		"MESSAGING_TRANSPORT", config.Transport,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_ASYNC_REPLIES", config.TwilioAsync)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for VitalAI data (overrides $VITALAI_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseURL, "transcript database DSN, SQLite path or PostgreSQL URL; empty keeps it in memory (overrides $DATABASE_URL)"),
		whatsAppDBDSN:  fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:       fs.String("qr-output", "", "path to write the whatsmeow login QR code"),
		numeric:        fs.Bool("numeric-code", false, "print the raw whatsmeow pairing code instead of a QR code"),
		openaiKey:      fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		planTimeout:    fs.Duration("plan-timeout", config.PlanTimeout, "timeout for one plan generation (overrides $PLAN_TIMEOUT)"),
		planPromptFile: fs.String("plan-system-prompt-file", config.PlanPromptFile, "file holding the plan system prompt (overrides $PLAN_SYSTEM_PROMPT_FILE)"),
		apiAddr:        fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:      fs.String("transport", config.Transport, "messaging transport: twilio or whatsmeow (overrides $MESSAGING_TRANSPORT)"),
		twilioAsync:    fs.Bool("twilio-async", config.TwilioAsync, "acknowledge Twilio webhooks at once and reply through the REST API (overrides $TWILIO_ASYNC_REPLIES)"),
		workers:        fs.Int("workers", config.Workers, "number of asynchronous reply workers (overrides $REPLY_WORKERS)"),
		maxReplyLength: fs.Int("max-reply-length", config.MaxReplyLength, "reply cap in characters, at most 1600 (overrides $MAX_REPLY_LENGTH)"),
		logLevel:       fs.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)"),
	}

	fs.Parse(args)

	// Follow a relocated state directory unless the device DSN was set explicitly.
	if *flags.whatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.whatsAppDBDSN = defaultWhatsAppDSN(*flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"transport", *flags.transport,
		"twilioAsync", *flags.twilioAsync,
		"apiAddr", *flags.apiAddr)
	return flags
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsAppDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var twilioOpts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return twilioOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(dsn) == "postgres" {
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	} else {
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
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
	genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.planTimeout))
	return genaiOpts
}

// buildFlowOptions constructs conversation flow options
func buildFlowOptions(flags Flags) []flow.Option {
	var flowOpts []flow.Option
	maxLen := *flags.maxReplyLength
	if maxLen <= 0 {
		return flowOpts
	}
	if maxLen > models.MaxMessageLength {
		slog.Warn("Reply cap exceeds the WhatsApp message limit, clamping", "requested", maxLen, "limit", models.MaxMessageLength)
		maxLen = models.MaxMessageLength
	}
	flowOpts = append(flowOpts, flow.WithMaxMessageLength(maxLen))
	return flowOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts,
		api.WithTransport(*flags.transport),
		api.WithTwilioAsync(*flags.twilioAsync),
		api.WithWorkers(*flags.workers),
	)
	if *flags.planPromptFile != "" {
		apiOpts = append(apiOpts, api.WithPlanSystemPromptFile(*flags.planPromptFile))
	}
	return apiOpts
}
