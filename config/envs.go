package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application's configuration values.
type Config struct {
	HostIP     string // Host IP for the server
	RESTPort   int    // Port for the REST API and websocket
	ServerID   string // Identifies this instance in session discovery
	Region     string // Region this instance runs in
	PublicAddr string // Address clients use to reach this instance
	GinMode    string // Mode for the Gin framework (e.g., release, debug, test)

	DBHost     string // Hostname or IP address for mongo
	DBPort     int    // Port number for mongo
	DBUser     string // Username for mongo
	DBPassword string // Password for mongo
	DBName     string // Name of the mongo database

	PostgresDSN string // Connection string of the wallet database

	RedisAddr     string // Redis address for discovery, queue and locks
	RedisPassword string
	RedisDB       int

	LedgerAPIURL   string // Base URL of the external settlement layer
	LedgerAPIToken string // Bearer token for the settlement layer

	JWTSecret string // Secret key shared with the identity service
	JWTIssuer string // Issuer claim expected on tokens

	AllowedOrigins []string // Websocket origins accepted; empty accepts any

	JoinTimeout                 time.Duration
	MoveTimeout                 time.Duration // Zero disables move deadlines
	GracePeriod                 time.Duration
	RematchDeadline             time.Duration
	RemovalDelay                time.Duration
	InactivityTimeout           time.Duration
	SweepInterval               time.Duration
	SettlementMaxElapsed        time.Duration
	SettlementReconcileInterval time.Duration
	MatchQueueTTL               int // Seconds a matchmaking queue lives untouched
	DiscoveryTTL                time.Duration
}

// Envs holds the application's configuration loaded from environment variables.
var Envs = initConfig()

// initConfig initializes and returns the application configuration.
// It loads environment variables from a .env file.
func initConfig() Config {
	// Load .env file if available
	if err := godotenv.Load(); err != nil {
		log.Printf("[APP] [INFO] .env file not found or could not be loaded: %v", err)
	}

	return Config{
		HostIP:     mustGetEnv("HOST_IP"),
		RESTPort:   mustGetEnvAsInt("REST_PORT"),
		ServerID:   getEnvWithDefault("SERVER_ID", hostname()),
		Region:     getEnvWithDefault("REGION", getEnvWithDefault("FLY_REGION", "unknown")),
		PublicAddr: mustGetEnv("PUBLIC_ADDR"),
		GinMode:    getEnvWithDefault("GIN_MODE", "release"),

		DBHost:     mustGetEnv("DB_HOST"),
		DBPort:     mustGetEnvAsInt("DB_PORT"),
		DBUser:     mustGetEnv("DB_USER"),
		DBPassword: mustGetEnv("DB_PASS"),
		DBName:     mustGetEnv("DB_NAME"),

		PostgresDSN: mustGetEnv("POSTGRES_DSN"),

		RedisAddr:     mustGetEnv("REDIS_ADDR"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 0),

		LedgerAPIURL:   mustGetEnv("LEDGER_API_URL"),
		LedgerAPIToken: getEnvWithDefault("LEDGER_API_TOKEN", ""),

		JWTSecret: mustGetEnv("JWT_SECRET"),
		JWTIssuer: mustGetEnv("JWT_ISSUER"),

		AllowedOrigins: splitList(getEnvWithDefault("ALLOWED_ORIGINS", "")),

		JoinTimeout:                 getEnvAsDuration("JOIN_TIMEOUT", 60*time.Second),
		MoveTimeout:                 getEnvAsDuration("MOVE_TIMEOUT", 0),
		GracePeriod:                 getEnvAsDuration("GRACE_PERIOD", 30*time.Second),
		RematchDeadline:             getEnvAsDuration("REMATCH_DEADLINE", 30*time.Second),
		RemovalDelay:                getEnvAsDuration("REMOVAL_DELAY", time.Minute),
		InactivityTimeout:           getEnvAsDuration("INACTIVITY_TIMEOUT", 15*time.Minute),
		SweepInterval:               getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		SettlementMaxElapsed:        getEnvAsDuration("SETTLEMENT_MAX_ELAPSED", 2*time.Minute),
		SettlementReconcileInterval: getEnvAsDuration("SETTLEMENT_RECONCILE_INTERVAL", time.Minute),
		MatchQueueTTL:               getEnvAsIntWithDefault("MATCH_QUEUE_TTL", 300),
		DiscoveryTTL:                getEnvAsDuration("DISCOVERY_TTL", 5*time.Minute),
	}
}

// mustGetEnv retrieves the value of an environment variable or logs a fatal error if not set.
func mustGetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Fatalf("[APP] [FATAL] Environment variable %s is not set", key)
	}
	return value
}

// mustGetEnvAsInt retrieves the value of an environment variable as an integer or logs a fatal error if not set or cannot be parsed.
func mustGetEnvAsInt(key string) int {
	valueStr := mustGetEnv(key)
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Fatalf("[APP] [FATAL] Environment variable %s must be an integer: %v", key, err)
	}
	return value
}

// getEnvWithDefault retrieves the value of an environment variable or returns a default value if not set.
func getEnvWithDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Fatalf("[APP] [FATAL] Environment variable %s must be an integer: %v", key, err)
	}
	return value
}

// getEnvAsDuration reads a Go duration such as "30s" or "2m".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value < 0 {
		log.Fatalf("[APP] [FATAL] Environment variable %s must be a non-negative duration: %v", key, err)
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "xplode"
	}
	return name
}
