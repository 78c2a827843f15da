package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/ReadPipe/internal/api"
	"github.com/BTreeMap/ReadPipe/internal/cache"
	"github.com/BTreeMap/ReadPipe/internal/dedup"
	"github.com/BTreeMap/ReadPipe/internal/evolution"
	"github.com/BTreeMap/ReadPipe/internal/reminder"
	"github.com/BTreeMap/ReadPipe/internal/store"
	"github.com/BTreeMap/ReadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReadPipe/internal/util"
	"github.com/BTreeMap/ReadPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReadPipe state data
	DefaultStateDir = "/var/lib/readpipe"
	// DefaultAppDBFileName is the SQLite database used when no Postgres DSN is set
	DefaultAppDBFileName = "readpipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTimezone is the zone reminders are scheduled in
	DefaultTimezone = "America/Sao_Paulo"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}
	loc, err := loadLocation(*flags.timezone)
	if err != nil {
		slog.Error("Invalid time zone", "error", err, "tz", *flags.timezone)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flags.testSend != "" {
		slog.Info("Sending test reminder", "phone", *flags.testSend, "gateway", *flags.gateway)
		err = api.SendTest(ctx, *flags.testSend,
			buildStoreOptions(config),
			buildGatewayOptions(flags, config),
			buildEngineOptions(config),
			buildAPIOptions(flags, config, loc),
		)
		if err != nil {
			slog.Error("Test reminder failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Bootstrapping ReadPipe", "gateway", *flags.gateway, "timezone", loc.String(), "state_dir", *flags.stateDir)
	err = api.Run(ctx,
		buildStoreOptions(config),
		buildCacheOptions(flags, config),
		buildGatewayOptions(flags, config),
		buildDedupOptions(config),
		buildEngineOptions(config),
		buildAPIOptions(flags, config, loc),
	)
	if err != nil {
		slog.Error("ReadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ReadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	WhatsAppDSN string
	RedisURL    string
	RedisAddr   string
	RedisPass   string
	MemoryCache bool
	Gateway     string

	EvolutionURL      string
	EvolutionKey      string
	EvolutionInstance string
	TwilioSID         string
	TwilioToken       string
	TwilioFrom        string

	Timezone string
	APIAddr  string
	LogLevel string

	SendPacing      time.Duration
	DedupTTL        time.Duration
	ThrottleTTL     time.Duration
	MissedThreshold int
	TickSchedule    string
	SweepSchedule   string
	MissedSchedule  string
	BootstrapSchema bool
	RunOnStart      bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	whatsappDSN *string
	redisURL    *string
	memoryCache *bool
	gateway     *string
	apiAddr     *string
	timezone    *string
	qrOutput    *string
	numeric     *bool
	testSend    *string
}

// initializeLogger installs a text slog handler at the given level (default info).
func initializeLogger(level string) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:    util.GetEnv("READPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		RedisURL:    os.Getenv("REDIS_URL"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		MemoryCache: util.ParseBoolEnv("MEMORY_CACHE", false),
		Gateway:     util.GetEnv("GATEWAY_PROVIDER", api.GatewayEvolution),

		EvolutionURL:      os.Getenv("EVOLUTION_API_URL"),
		EvolutionKey:      os.Getenv("EVOLUTION_API_KEY"),
		EvolutionInstance: os.Getenv("EVOLUTION_INSTANCE"),
		TwilioSID:         os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),

		Timezone: util.GetEnv("TZ", DefaultTimezone),
		APIAddr:  util.GetEnv("API_ADDR", api.DefaultAddr),
		LogLevel: util.GetEnv("LOG_LEVEL", "info"),

		SendPacing:      util.ParseDurationEnv("SEND_PACING", reminder.DefaultPacing),
		DedupTTL:        util.ParseDurationEnv("DEDUP_TTL", dedup.MinReminderTTL),
		ThrottleTTL:     util.ParseDurationEnv("THROTTLE_TTL", dedup.MinThrottleTTL),
		MissedThreshold: util.ParseIntEnv("MISSED_THRESHOLD", reminder.DefaultMissedThreshold),
		TickSchedule:    util.GetEnv("TICK_SCHEDULE", api.DefaultTickSchedule),
		SweepSchedule:   util.GetEnv("SWEEP_SCHEDULE", api.DefaultSweepSchedule),
		MissedSchedule:  util.GetEnv("MISSED_SCHEDULE", api.DefaultMissedSchedule),
		BootstrapSchema: util.ParseBoolEnv("BOOTSTRAP_SCHEMA", false),
		RunOnStart:      util.ParseBoolEnv("RUN_ON_START", true),
	}

	// Discrete DB_* variables are used when no DATABASE_URL is given
	if config.DatabaseURL == "" {
		config.DatabaseURL = composeDatabaseURL(
			os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME"),
			os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), util.GetEnv("DB_SSLMODE", "disable"))
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = defaultAppDSN(config.StateDir)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.RedisURL == "" {
		config.RedisAddr = net.JoinHostPort(util.GetEnv("REDIS_HOST", "localhost"), util.GetEnv("REDIS_PORT", "6379"))
	}

	slog.Debug("environment variables loaded",
		"READPIPE_STATE_DIR", config.StateDir,
		"DATABASE_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"REDIS_ADDR", config.RedisAddr,
		"MEMORY_CACHE", config.MemoryCache,
		"GATEWAY_PROVIDER", config.Gateway,
		"EVOLUTION_API_KEY_SET", config.EvolutionKey != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"TZ", config.Timezone,
		"API_ADDR", config.APIAddr,
		"SEND_PACING", config.SendPacing,
		"MISSED_THRESHOLD", config.MissedThreshold)

	return config
}

// parseCommandLineFlags parses args with environment defaults. Database paths
// derived from the state directory follow a -state-dir override.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:    fs.String("state-dir", config.StateDir, "state directory for ReadPipe data (overrides $READPIPE_STATE_DIR)"),
		dbDSN:       fs.String("db-dsn", config.DatabaseURL, "Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		whatsappDSN: fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database (overrides $WHATSAPP_DB_DSN)"),
		redisURL:    fs.String("redis-url", config.RedisURL, "Redis URL for dedup markers (overrides $REDIS_URL)"),
		memoryCache: fs.Bool("memory-cache", config.MemoryCache, "keep dedup markers in memory instead of Redis (overrides $MEMORY_CACHE)"),
		gateway:     fs.String("gateway", config.Gateway, "messaging provider: evolution, twilio or whatsmeow (overrides $GATEWAY_PROVIDER)"),
		apiAddr:     fs.String("api-addr", config.APIAddr, "health server address (overrides $API_ADDR)"),
		timezone:    fs.String("tz", config.Timezone, "IANA time zone for schedules (overrides $TZ)"),
		qrOutput:    fs.String("qr-output", "", "path to write the whatsmeow login QR code"),
		numeric:     fs.Bool("numeric-code", false, "print the whatsmeow pairing code instead of a QR code"),
		testSend:    fs.String("test-send", "", "send one sample reminder to this phone number and exit"),
	}
	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == defaultAppDSN(config.StateDir) {
			*flags.dbDSN = defaultAppDSN(*flags.stateDir)
			slog.Debug("Updated dbDSN based on state directory", "state_dir", *flags.stateDir)
		}
		if *flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"gateway", *flags.gateway,
		"apiAddr", *flags.apiAddr,
		"tz", *flags.timezone)
	return flags, nil
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// composeDatabaseURL builds a Postgres URL from discrete settings; empty without a host.
func composeDatabaseURL(host, port, name, user, password, sslmode string) string {
	if host == "" {
		return ""
	}
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}

// ensureDirectoriesExist creates the state directory and the parents of file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.dbDSN, *flags.whatsappDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func buildStoreOptions(config Config) []store.Option {
	return []store.Option{store.WithBootstrapSchema(config.BootstrapSchema)}
}

// buildCacheOptions returns nil when the in-memory cache is selected.
func buildCacheOptions(flags Flags, config Config) []cache.Option {
	switch {
	case *flags.memoryCache:
		return nil
	case *flags.redisURL != "":
		return []cache.Option{cache.WithURL(*flags.redisURL)}
	default:
		return []cache.Option{cache.WithAddr(config.RedisAddr), cache.WithPassword(config.RedisPass)}
	}
}

func buildGatewayOptions(flags Flags, config Config) api.GatewayOptions {
	gw := api.GatewayOptions{
		Evolution: []evolution.Option{
			evolution.WithBaseURL(config.EvolutionURL),
			evolution.WithAPIKey(config.EvolutionKey),
			evolution.WithInstance(config.EvolutionInstance),
		},
		WhatsApp: []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)},
	}
	if config.TwilioSID != "" {
		gw.Twilio = append(gw.Twilio, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		gw.Twilio = append(gw.Twilio, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		gw.Twilio = append(gw.Twilio, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	if *flags.qrOutput != "" {
		gw.WhatsApp = append(gw.WhatsApp, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		gw.WhatsApp = append(gw.WhatsApp, whatsapp.WithNumericCode())
	}
	return gw
}

func buildDedupOptions(config Config) []dedup.Option {
	return []dedup.Option{
		dedup.WithReminderTTL(config.DedupTTL),
		dedup.WithThrottleTTL(config.ThrottleTTL),
	}
}

func buildEngineOptions(config Config) []reminder.Option {
	return []reminder.Option{
		reminder.WithPacing(config.SendPacing),
		reminder.WithMissedThreshold(config.MissedThreshold),
	}
}

func buildAPIOptions(flags Flags, config Config, loc *time.Location) []api.Option {
	return []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithDatabaseDSN(*flags.dbDSN),
		api.WithStateDir(*flags.stateDir),
		api.WithLocation(loc),
		api.WithGateway(*flags.gateway),
		api.WithTickSchedule(config.TickSchedule),
		api.WithSweepSchedule(config.SweepSchedule),
		api.WithMissedSchedule(config.MissedSchedule),
		api.WithRunOnStart(config.RunOnStart),
		api.WithMemoryCache(*flags.memoryCache),
	}
}
