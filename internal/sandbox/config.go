package sandbox

import (
	"os"
	"strconv"
	"time"
)

// Config is the sandbox service configuration, read from the environment.
type Config struct {
	Addr            string
	LogLevel        string
	ConsumerKey     string
	CellRes         int
	PageLimit       int
	HistoryDepth    int
	ShutdownTimeout time.Duration
}

func FromEnv() Config {
	res := getint("SANDBOX_CELL_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}
	return Config{
		Addr:            getenv("SANDBOX_ADDR", ":8091"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		ConsumerKey:     getenv("SANDBOX_CONSUMER_KEY", ""),
		CellRes:         res,
		PageLimit:       getint("SANDBOX_PAGE_LIMIT", 25),
		HistoryDepth:    getint("SANDBOX_HISTORY_DEPTH", 32),
		ShutdownTimeout: getduration("SANDBOX_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
