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

	"github.com/convograph/convograph/internal/api"
	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/channel/twilio"
	"github.com/convograph/convograph/internal/channel/whatsapp"
	"github.com/convograph/convograph/internal/flow"
	"github.com/convograph/convograph/internal/lockfile"
	"github.com/convograph/convograph/internal/models"
	"github.com/convograph/convograph/internal/nlu"
	"github.com/convograph/convograph/internal/store"
	"github.com/convograph/convograph/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ConvoGraph state data
	DefaultStateDir = "/var/lib/convograph"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "convograph.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping ConvoGraph with configured modules")
	if err := run(config, flags); err != nil {
		slog.Error("ConvoGraph failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ConvoGraph exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	WhatsAppDSN     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	EnableWhatsApp  bool
	EnableTwilio    bool
	GlobalFallback  bool
	FallbackBlockID string
	FallbackMessage string
	PenaltyFactor   float64
	NLUThreshold    float64
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:        os.Getenv("CONVOGRAPH_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		EnableWhatsApp:  util.ParseBoolEnv("ENABLE_WHATSAPP", false),
		EnableTwilio:    util.ParseBoolEnv("ENABLE_TWILIO", false),
		GlobalFallback:  util.ParseBoolEnv("GLOBAL_FALLBACK", false),
		FallbackBlockID: os.Getenv("FALLBACK_BLOCK_ID"),
		FallbackMessage: os.Getenv("FALLBACK_MESSAGE"),
		PenaltyFactor:   util.ParseFloatEnv("NLU_PENALTY_FACTOR", 0),
		NLUThreshold:    util.ParseFloatEnv("NLU_THRESHOLD", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONVOGRAPH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	// The whatsmeow session store defaults to the main database location.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CONVOGRAPH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ENABLE_WHATSAPP", config.EnableWhatsApp,
		"ENABLE_TWILIO", config.EnableTwilio,
		"GLOBAL_FALLBACK", config.GlobalFallback)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for ConvoGraph data (overrides $CONVOGRAPH_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the engine store (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for NLU (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	// Follow a moved state directory when the DSN was derived from it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

// run wires the store, flow controller, channels, NLU and API server.
func run(config Config, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	emitter := flow.NewChanEmitter(256)
	go drainHookEvents(emitter)

	controller := flow.NewController(st, flow.WithEmitter(emitter))

	apiOpts := buildAPIOptions(config, flags)

	if config.EnableTwilio {
		th, err := twilio.NewHandler()
		if err != nil {
			return err
		}
		controller.RegisterHandler(th)
		slog.Info("Twilio channel enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(controller, st, apiOpts...)

	if config.EnableWhatsApp {
		wh, err := buildWhatsAppHandler(config, flags)
		if err != nil {
			return err
		}
		controller.RegisterHandler(wh)
		// WhatsApp events bypass the HTTP webhook and feed the engine directly.
		wh.Listen(func(event *channel.GenericEvent) {
			if err := server.DispatchEvent(ctx, event); err != nil {
				slog.Error("WhatsApp event handling failed", "error", err)
			}
		})
		slog.Info("WhatsApp channel enabled")
	}

	return server.Run(ctx)
}

// buildStore selects a storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildSettings assembles the settings snapshot handed to every turn.
func buildSettings(config Config) models.Settings {
	settings := models.Settings{
		Chatbot: models.ChatbotSettings{
			GlobalFallback:  config.GlobalFallback,
			FallbackBlockID: config.FallbackBlockID,
		},
		NLU: models.NLUSettings{PenaltyFactor: config.PenaltyFactor},
	}
	if config.FallbackMessage != "" {
		settings.Chatbot.FallbackMessage = []string{config.FallbackMessage}
	}
	return settings
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithSettings(buildSettings(config))}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.openaiKey != "" {
		predictor, err := nlu.NewOpenAIPredictor(nlu.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("NLU predictor unavailable, continuing without NLU", "error", err)
		} else {
			apiOpts = append(apiOpts,
				api.WithPredictor(predictor),
				api.WithScorer(nlu.Scorer{Threshold: config.NLUThreshold}))
		}
	}
	return apiOpts
}

// buildWhatsAppHandler constructs the WhatsApp channel handler.
func buildWhatsAppHandler(config Config, flags Flags) (*whatsapp.Handler, error) {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if config.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	}
	return whatsapp.NewHandler(waOpts...)
}

// drainHookEvents logs hook events; a metrics sink would attach here.
func drainHookEvents(emitter *flow.ChanEmitter) {
	for event := range emitter.Events() {
		slog.Info("Hook event",
			"kind", event.Kind,
			"name", event.Name,
			"block", event.BlockID,
			"conversation", event.ConversationID,
			"subscriber", event.SubscriberID,
			"failed", event.Failed)
	}
}
