package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "SIDECAR_CONFIG"

type Config struct {
	ServerAddr string `yaml:"server_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	LogLevel   string `yaml:"log_level"`

	STTEnabled         bool   `yaml:"stt_enabled"`
	WhisperModelSize   string `yaml:"whisper_model_size"`
	WhisperDevice      string `yaml:"whisper_device"`
	WhisperComputeType string `yaml:"whisper_compute_type"`
	STTRuntimeURL      string `yaml:"stt_runtime_url"`

	TTSEnabled    bool   `yaml:"tts_enabled"`
	TTSModelType  string `yaml:"tts_model_type"`
	TTSModelName  string `yaml:"tts_model_name"`
	TTSDevice     string `yaml:"tts_device"`
	TTSRuntimeURL string `yaml:"tts_runtime_url"`
	TTSSampleRate int    `yaml:"tts_sample_rate"`

	RuntimeAPIKey string `yaml:"runtime_api_key"`

	STTChunkSeconds      float64 `yaml:"stt_chunk_seconds"`
	STTOverlapSeconds    float64 `yaml:"stt_overlap_seconds"`
	InferenceConcurrency int     `yaml:"inference_concurrency"`
	SessionRate          float64 `yaml:"session_rate"`
	SessionBurst         int     `yaml:"session_burst"`

	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

var defaultTTSModels = map[string]string{
	"parler": "parler-tts/parler-tts-mini-v1",
	"f5":     "SWivid/F5-TTS",
	"xtts":   "tts_models/multilingual/multi-dataset/xtts_v2",
}

func defaultConfig() Config {
	return Config{
		ServerAddr: ":8000",
		GRPCAddr:   ":50051",
		LogLevel:   "info",

		STTEnabled:         true,
		WhisperModelSize:   "base",
		WhisperDevice:      "cpu",
		WhisperComputeType: "int8",
		STTRuntimeURL:      "http://localhost:8080",

		TTSEnabled:    true,
		TTSModelType:  "parler",
		TTSDevice:     "cpu",
		TTSRuntimeURL: "http://localhost:8081",
		TTSSampleRate: 24000,

		STTChunkSeconds:      2.0,
		STTOverlapSeconds:    0.5,
		InferenceConcurrency: 1,
		SessionRate:          5,
		SessionBurst:         10,

		CacheTTLSeconds: 3600,
	}
}

// LoadConfig starts from defaults, applies the YAML file named by
// SIDECAR_CONFIG if set, then applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.GRPCAddr = getEnv("GRPC_ADDR", cfg.GRPCAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.STTEnabled = getEnvBool("STT_ENABLED", cfg.STTEnabled)
	cfg.WhisperModelSize = getEnv("WHISPER_MODEL_SIZE", cfg.WhisperModelSize)
	cfg.WhisperDevice = getEnv("WHISPER_DEVICE", cfg.WhisperDevice)
	cfg.WhisperComputeType = getEnv("WHISPER_COMPUTE_TYPE", cfg.WhisperComputeType)
	cfg.STTRuntimeURL = getEnv("STT_RUNTIME_URL", cfg.STTRuntimeURL)

	cfg.TTSEnabled = getEnvBool("TTS_ENABLED", cfg.TTSEnabled)
	cfg.TTSModelType = getEnv("TTS_MODEL_TYPE", cfg.TTSModelType)
	cfg.TTSModelName = getEnv("TTS_MODEL_NAME", cfg.TTSModelName)
	cfg.TTSDevice = getEnv("TTS_DEVICE", cfg.TTSDevice)
	cfg.TTSRuntimeURL = getEnv("TTS_RUNTIME_URL", cfg.TTSRuntimeURL)
	cfg.TTSSampleRate = getEnvInt("TTS_SAMPLE_RATE", cfg.TTSSampleRate)

	cfg.RuntimeAPIKey = getEnv("RUNTIME_API_KEY", cfg.RuntimeAPIKey)

	cfg.STTChunkSeconds = getEnvFloat("STT_CHUNK_SECONDS", cfg.STTChunkSeconds)
	cfg.STTOverlapSeconds = getEnvFloat("STT_OVERLAP_SECONDS", cfg.STTOverlapSeconds)
	cfg.InferenceConcurrency = getEnvInt("INFERENCE_CONCURRENCY", cfg.InferenceConcurrency)
	cfg.SessionRate = getEnvFloat("SESSION_RATE", cfg.SessionRate)
	cfg.SessionBurst = getEnvInt("SESSION_BURST", cfg.SessionBurst)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.CacheTTLSeconds = getEnvInt("CACHE_TTL_SECONDS", cfg.CacheTTLSeconds)

	if cfg.TTSModelName == "" {
		cfg.TTSModelName = defaultTTSModels[strings.ToLower(cfg.TTSModelType)]
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.STTEnabled && !c.TTSEnabled {
		return fmt.Errorf("at least one of STT_ENABLED or TTS_ENABLED must be true")
	}
	if c.TTSEnabled && c.TTSModelName == "" {
		return fmt.Errorf("unknown TTS_MODEL_TYPE %q and no TTS_MODEL_NAME", c.TTSModelType)
	}
	if c.TTSSampleRate <= 0 {
		return fmt.Errorf("invalid TTS_SAMPLE_RATE %d", c.TTSSampleRate)
	}
	if c.STTOverlapSeconds < 0 || c.STTOverlapSeconds >= c.STTChunkSeconds {
		return fmt.Errorf("STT_OVERLAP_SECONDS must be in [0, STT_CHUNK_SECONDS)")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
