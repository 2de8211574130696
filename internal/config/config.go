package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings, loaded from environment variables.
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	Port      string

	DailyAPIKey  string
	DailyAPIBase string

	SessionDuration time.Duration // length of one practice session
	MatchInterval   time.Duration // batch matching cadence (wall-clock aligned)
	RoomExpiryGrace time.Duration // extra provider-side room lifetime past session end
	CleanupLead     time.Duration // how long before period end the queue cleanup runs

	SweepInterval  time.Duration // expiry sweep cadence
	OrphanInterval time.Duration // orphan room reconciliation cadence
	GCInterval     time.Duration // retention GC cadence
	RetentionDays  int

	MaxRoomsPerMonth   int // 0 = unlimited
	MaxMinutesPerMonth int // 0 = unlimited

	Timezone *time.Location
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	tzName := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("Warning: invalid TIMEZONE %q, using UTC", tzName)
		loc = time.UTC
	}

	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "tandem"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		Port:      getEnv("PORT", "8080"),

		DailyAPIKey:  os.Getenv("DAILY_API_KEY"),
		DailyAPIBase: getEnv("DAILY_API_BASE", "https://api.daily.co/v1"),

		SessionDuration: getDuration("SESSION_DURATION", 30*time.Minute),
		MatchInterval:   getDuration("MATCH_INTERVAL", 10*time.Minute),
		RoomExpiryGrace: getDuration("ROOM_EXPIRY_GRACE", 5*time.Minute),
		CleanupLead:     getDuration("CLEANUP_LEAD", time.Minute),

		SweepInterval:  getDuration("SWEEP_INTERVAL", time.Minute),
		OrphanInterval: getDuration("ORPHAN_INTERVAL", 3*time.Hour),
		GCInterval:     getDuration("GC_INTERVAL", 24*time.Hour),
		RetentionDays:  getInt("RETENTION_DAYS", 30),

		MaxRoomsPerMonth:   getInt("MAX_ROOMS_PER_MONTH", 0),
		MaxMinutesPerMonth: getInt("MAX_MINUTES_PER_MONTH", 0),

		Timezone: loc,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, val, defaultVal)
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}
