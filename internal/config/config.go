package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	StoreDriver string
	RedisAddr   string
	SQLitePath  string
	BufferSize  int
	StatusTTL   time.Duration
	LogFile     string
	LogLevel    string
}

// Load reads the environment. Every setting has a default; a numeric
// setting that fails to parse is a startup error naming the variable,
// never a silent fallback.
func Load() (Config, error) {
	port, err := envInt("SERVER_PORT", 3000)
	if err != nil {
		return Config{}, err
	}
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}
	bufferSize, err := envInt("BROADCAST_BUFFER_SIZE", 10)
	if err != nil {
		return Config{}, err
	}
	if bufferSize <= 0 {
		return Config{}, fmt.Errorf("BROADCAST_BUFFER_SIZE must be positive, got %d", bufferSize)
	}
	ttlSec, err := envInt("STATUS_TTL_SECONDS", 86400)
	if err != nil {
		return Config{}, err
	}
	if ttlSec <= 0 {
		return Config{}, fmt.Errorf("STATUS_TTL_SECONDS must be positive, got %d", ttlSec)
	}
	driver := strings.ToLower(env("STORE_DRIVER", "redis"))
	switch driver {
	case "redis", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be redis, sqlite or memory, got %q", driver)
	}
	level := strings.ToLower(env("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", level)
	}
	baseDir := executableDir()
	return Config{
		HTTPAddr:    fmt.Sprintf(":%d", port),
		StoreDriver: driver,
		RedisAddr:   env("REDIS_ADDR", "127.0.0.1:6379"),
		SQLitePath:  envPath("SQLITE_PATH", filepath.Join(baseDir, "presence.db"), baseDir),
		BufferSize:  bufferSize,
		StatusTTL:   time.Duration(ttlSec) * time.Second,
		LogFile:     env("LOG_FILE", ""),
		LogLevel:    level,
	}, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", k, v)
	}
	return n, nil
}

func envPath(k, def, baseDir string) string {
	v := env(k, def)
	if v == "" {
		return v
	}
	if filepath.IsAbs(v) {
		return v
	}
	if baseDir == "" {
		return v
	}
	return filepath.Join(baseDir, v)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return "."
	}
	if real, err := filepath.EvalSymlinks(exe); err == nil && real != "" {
		exe = real
	}
	dir := filepath.Dir(exe)
	if dir == "" {
		return "."
	}
	return dir
}
