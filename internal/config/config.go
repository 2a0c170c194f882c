// Package config loads the process-wide configuration named in
// spec.md §6: TSDB connection, the three logical database names, the
// per-signal definitions, and the DSP/scheduling tunables. It is an
// external collaborator to the core (spec.md §1) — none of C2–C10
// import this package directly; the composition root (internal/container)
// reads it once at startup and passes typed values down.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"pmuwatch/domain/sample"
	domainwarning "pmuwatch/domain/warning"
	"pmuwatch/internal/errors"
)

// Config is the complete process configuration.
type Config struct {
	TSDB                 TSDBConfig
	Server               ServerConfig
	Analysis             AnalysisConfig
	Signals              map[string]sample.Config
	Thresholds           []domainwarning.ThresholdConfig
	WarningStoreInterval time.Duration
}

// TSDBConfig holds the backing Postgres connection and logical database
// names (spec.md §6: tsdb_host, tsdb_port, source_db, analysis_db,
// warning_db).
type TSDBConfig struct {
	DSN        string
	Host       string
	Port       int
	SourceDB   string
	AnalysisDB string
	WarningDB  string
}

// ServerConfig holds the thin HTTP surface's listen settings.
type ServerConfig struct {
	Port    string
	GinMode string
}

// AnalysisConfig holds the scheduler and DSP tunables.
type AnalysisConfig struct {
	IntervalSeconds float64
	SampleRateHz    float64
	RingBufferSize  int
	WindowSize      int
}

// Load reads configuration from a .env file (if present) and
// environment variables, then loads the signal catalogue from a JSON
// file, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional: missing .env is not an error

	cfg := &Config{
		TSDB:     loadTSDBConfig(),
		Server:   loadServerConfig(),
		Analysis: loadAnalysisConfig(),
	}

	signalsPath := getEnvOrDefault("SIGNALS_FILE", "./config/signals.json")
	signals, err := loadSignals(signalsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load signal catalogue")
	}
	cfg.Signals = signals

	thresholdsPath := getEnvOrDefault("THRESHOLDS_FILE", "./config/thresholds.json")
	thresholds, err := loadThresholds(thresholdsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load threshold catalogue")
	}
	cfg.Thresholds = thresholds
	cfg.WarningStoreInterval = getEnvDurationOrDefault("WARNING_STORE_INTERVAL", time.Second)

	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return cfg, nil
}

func loadTSDBConfig() TSDBConfig {
	host := getEnvOrDefault("TSDB_HOST", "127.0.0.1")
	port := getEnvIntOrDefault("TSDB_PORT", 8086)
	return TSDBConfig{
		DSN:        getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/pmuwatch?sslmode=disable"),
		Host:       host,
		Port:       port,
		SourceDB:   getEnvOrDefault("SOURCE_DB", "pmu_data"),
		AnalysisDB: getEnvOrDefault("ANALYSIS_DB", "pmu_analysis"),
		WarningDB:  getEnvOrDefault("WARNING_DB", "pmu_warnings"),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func loadAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		IntervalSeconds: getEnvFloatOrDefault("ANALYSIS_INTERVAL_S", 5.0),
		SampleRateHz:    getEnvFloatOrDefault("SAMPLE_RATE_HZ", 1.0),
		RingBufferSize:  getEnvIntOrDefault("RING_BUFFER_SIZE", 256),
		WindowSize:      getEnvIntOrDefault("WINDOW_SIZE", 128),
	}
}

// signalFileEntry mirrors sample.Config. Warning-engine thresholds are
// not read from here; they come from the separate threshold catalogue
// (thresholdFileEntry).
type signalFileEntry struct {
	SignalID       string   `json:"signal_id"`
	Type           string   `json:"type"`
	Base           *float64 `json:"base,omitempty"`
	ThresholdRatio *float64 `json:"threshold_ratio,omitempty"`
}

func loadSignals(path string) (map[string]sample.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]sample.Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []signalFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.ConfigInvalid("signals file is not valid JSON: " + err.Error())
	}

	out := make(map[string]sample.Config, len(entries))
	for _, e := range entries {
		out[e.SignalID] = sample.Config{
			SignalID:       e.SignalID,
			Type:           sample.SignalType(e.Type),
			Base:           e.Base,
			ThresholdRatio: e.ThresholdRatio,
		}
	}
	return out, nil
}

// thresholdFileEntry mirrors domain/warning.ThresholdConfig with its
// duration tunables expressed in seconds, since time.Duration has no
// natural JSON encoding.
type thresholdFileEntry struct {
	SignalID          string   `json:"signal_id"`
	SignalType        string   `json:"signal_type"`
	WarningMin        *float64 `json:"warning_min,omitempty"`
	WarningMax        *float64 `json:"warning_max,omitempty"`
	CriticalMin       *float64 `json:"critical_min,omitempty"`
	CriticalMax       *float64 `json:"critical_max,omitempty"`
	TriggerCount      int      `json:"trigger_count,omitempty"`
	TriggerWindowS    float64  `json:"trigger_window_s,omitempty"`
	RecoveryCount     int      `json:"recovery_count,omitempty"`
	RecoveryWindowS   float64  `json:"recovery_window_s,omitempty"`
	MinEventDurationS float64  `json:"min_event_duration_s,omitempty"`
}

func loadThresholds(path string) ([]domainwarning.ThresholdConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []thresholdFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.ConfigInvalid("thresholds file is not valid JSON: " + err.Error())
	}

	out := make([]domainwarning.ThresholdConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, domainwarning.ThresholdConfig{
			SignalID:         e.SignalID,
			SignalType:       e.SignalType,
			WarningMin:       e.WarningMin,
			WarningMax:       e.WarningMax,
			CriticalMin:      e.CriticalMin,
			CriticalMax:      e.CriticalMax,
			TriggerCount:     e.TriggerCount,
			TriggerWindow:    secondsToDuration(e.TriggerWindowS),
			RecoveryCount:    e.RecoveryCount,
			RecoveryWindow:   secondsToDuration(e.RecoveryWindowS),
			MinEventDuration: secondsToDuration(e.MinEventDurationS),
		}.WithDefaults())
	}
	return out, nil
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func validate(cfg *Config) error {
	if cfg.TSDB.DSN == "" {
		return errors.ConfigInvalid("DATABASE_URL is required")
	}
	if cfg.Analysis.IntervalSeconds <= 0 {
		return errors.ConfigInvalid("analysis interval must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
