package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Archive   ArchiveConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      string
	StaticDir string
}

type RelayConfig struct {
	StrictJoin   bool
	HistoryLimit int
}

type ArchiveConfig struct {
	Enabled           bool
	DBPath            string
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration
}

type RateLimitConfig struct {
	MessagesPerSecond   float64
	MessageBurst        int
	HandshakesPerSecond float64
	HandshakeBurst      int
}

// Load reads an optional .env file, then the environment, then applies
// command-line overrides from args. pflag.ErrHelp is returned as is.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	cfg := FromEnv()
	if err := cfg.ParseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      getEnv("PORT", "3000"),
			StaticDir: getEnv("STATIC_DIR", ""),
		},
		Relay: RelayConfig{
			StrictJoin:   getBool("STRICT_JOIN", false),
			HistoryLimit: getInt("HISTORY_LIMIT", 1000),
		},
		Archive: ArchiveConfig{
			Enabled:           getBool("ARCHIVE_ENABLED", true),
			DBPath:            getEnv("SKETCHROOM_DB_PATH", "./data/sketchroom.db"),
			RetentionMaxAge:   getDuration("RETENTION_MAX_AGE", 30*24*time.Hour),
			RetentionInterval: getDuration("RETENTION_INTERVAL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond:   getFloat("MESSAGES_PER_SECOND", 200),
			MessageBurst:        getInt("MESSAGE_BURST", 400),
			HandshakesPerSecond: getFloat("HANDSHAKES_PER_SECOND", 5),
			HandshakeBurst:      getInt("HANDSHAKE_BURST", 20),
		},
	}
}

// ParseFlags overrides fields with whatever flags appear in args.
// Flags that are not given leave the environment value in place.
func (c *Config) ParseFlags(args []string) error {
	flagSet := pflag.NewFlagSet("sketchroom", pflag.ContinueOnError)
	flagSet.StringVar(&c.Server.Port, "port", c.Server.Port, "HTTP listen port")
	flagSet.StringVar(&c.Server.StaticDir, "static", c.Server.StaticDir, "serve this directory at / (disabled when empty)")
	flagSet.StringVar(&c.Archive.DBPath, "db", c.Archive.DBPath, "path to the sqlite activity archive")
	flagSet.BoolVar(&c.Archive.Enabled, "archive", c.Archive.Enabled, "record room activity to the archive")
	flagSet.BoolVar(&c.Relay.StrictJoin, "strict-join", c.Relay.StrictJoin, "reject events from connections that have not joined a room")

	return flagSet.Parse(args)
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.Relay.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.Relay.HistoryLimit)
	}
	if c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.MessageBurst <= 0 {
		return fmt.Errorf("message rate limit must be positive")
	}
	if c.Archive.Enabled && c.Archive.DBPath == "" {
		return fmt.Errorf("archive enabled without a database path")
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Server.Port, ":")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// Bare numbers are seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
