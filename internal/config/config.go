package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	MaxConns       int    `yaml:"max_conns"`
	AcquireTimeout int    `yaml:"acquire_timeout_ms"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type EngineConfig struct {
	Mode         string `yaml:"mode"` // mock, exec
	Command      string `yaml:"command"`
	ModelPath    string `yaml:"model_path"`
	Language     string `yaml:"language"`
	SampleRate   int    `yaml:"sample_rate"`
	InferTimeout int    `yaml:"infer_timeout_ms"`
}

type AudioConfig struct {
	MinDurationSec float64 `yaml:"min_duration_sec"`
	MaxDurationSec float64 `yaml:"max_duration_sec"`
}

type BatchConfig struct {
	Workers int `yaml:"workers"`
	MaxJobs int `yaml:"max_jobs"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Engine      EngineConfig    `yaml:"engine"`
	Audio       AudioConfig     `yaml:"audio"`
	Batch       BatchConfig     `yaml:"batch"`
}

func Default() Config {
	return Config{
		ServiceName: "kinyvoiced",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:           "./data/transcriptions.db",
			MaxConns:       10,
			AcquireTimeout: 5000,
		},
		Engine: EngineConfig{
			Mode:         "mock",
			SampleRate:   16000,
			InferTimeout: 120000,
		},
		Audio: AudioConfig{
			MinDurationSec: 0.1,
			MaxDurationSec: 600,
		},
		Batch: BatchConfig{
			Workers: 2,
			MaxJobs: 1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "KINYVOICE_SERVICE_NAME")
	overrideString(&cfg.Environment, "KINYVOICE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "KINYVOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "KINYVOICE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "KINYVOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "KINYVOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "KINYVOICE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "KINYVOICE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "KINYVOICE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "KINYVOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "KINYVOICE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "KINYVOICE_BUS_SERVERS")
	overrideInt(&cfg.Bus.ConnectTimeout, "KINYVOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "KINYVOICE_STORE_PATH")
	overrideInt(&cfg.Store.MaxConns, "KINYVOICE_STORE_MAX_CONNS")
	overrideInt(&cfg.Store.AcquireTimeout, "KINYVOICE_STORE_ACQUIRE_TIMEOUT_MS")
	overrideBool(&cfg.Store.VacuumOnStart, "KINYVOICE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "KINYVOICE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "KINYVOICE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "KINYVOICE_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "KINYVOICE_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.SampleRate, "KINYVOICE_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.InferTimeout, "KINYVOICE_ENGINE_INFER_TIMEOUT_MS")
	overrideFloat(&cfg.Audio.MinDurationSec, "KINYVOICE_AUDIO_MIN_DURATION_SEC")
	overrideFloat(&cfg.Audio.MaxDurationSec, "KINYVOICE_AUDIO_MAX_DURATION_SEC")
	overrideInt(&cfg.Batch.Workers, "KINYVOICE_BATCH_WORKERS")
	overrideInt(&cfg.Batch.MaxJobs, "KINYVOICE_BATCH_MAX_JOBS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.MaxConns <= 0 {
		return errors.New("store.max_conns must be >= 1")
	}
	if cfg.Store.AcquireTimeout <= 0 {
		return errors.New("store.acquire_timeout_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Audio.MinDurationSec <= 0 {
		return errors.New("audio.min_duration_sec must be positive")
	}
	if cfg.Audio.MaxDurationSec <= cfg.Audio.MinDurationSec {
		return errors.New("audio.max_duration_sec must be greater than min_duration_sec")
	}
	if cfg.Batch.Workers <= 0 {
		return errors.New("batch.workers must be >= 1")
	}
	if cfg.Batch.MaxJobs <= 0 {
		return errors.New("batch.max_jobs must be >= 1")
	}
	return nil
}
