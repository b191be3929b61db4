package config

import "os"

// FromEnv overlays SYNCD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SYNCD_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SYNCD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SYNCD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SYNCD_ZONE"); v != "" {
		cfg.Zone = v
	}
	if v := os.Getenv("SYNCD_QUEUE_URL"); v != "" {
		cfg.Queue.URL = v
	}
	if v := os.Getenv("SYNCD_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("SYNCD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYNCD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
