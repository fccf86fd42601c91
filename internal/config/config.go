package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings tree. Precedence when loading is
// file > environment > defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Upload    *UploadConfig    `json:"upload"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret string        `json:"secret"`
	Leeway time.Duration `json:"leeway"`
}

type UploadConfig struct {
	Dir           string `json:"dir"`
	MaxImageBytes int64  `json:"max_image_bytes"`
	MaxModelBytes int64  `json:"max_model_bytes"`
}

// DefaultConfig returns settings suitable for local development. The auth
// secret has no default; deployments must provide one.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./adminchat.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   64,
		},
		Auth: &AuthConfig{
			Leeway: 30 * time.Second,
		},
		Upload: &UploadConfig{
			Dir:           "./uploads",
			MaxImageBytes: 5 << 20,
			MaxModelBytes: 50 << 20,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Upload == nil || c.Upload.Dir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.Upload.MaxImageBytes <= 0 || c.Upload.MaxModelBytes <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	return nil
}

// LoadFromEnv reads ADMINCHAT_* environment variables over the defaults.
// A .env file in the working directory is loaded first if present.
func LoadFromEnv() *Config {
	godotenv.Load()

	config := DefaultConfig()

	if v := os.Getenv("ADMINCHAT_DATABASE_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := os.Getenv("ADMINCHAT_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.Timeout = d
		}
	}
	if v := os.Getenv("ADMINCHAT_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.HTTP.Port = p
		}
	}
	if v := os.Getenv("ADMINCHAT_HTTP_HOST"); v != "" {
		config.HTTP.Host = v
	}
	if v := os.Getenv("ADMINCHAT_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("ADMINCHAT_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("ADMINCHAT_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("ADMINCHAT_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if v := os.Getenv("ADMINCHAT_WEBSOCKET_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("ADMINCHAT_WEBSOCKET_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.WebSocket.BufferSize = n
		}
	}
	if v := os.Getenv("ADMINCHAT_AUTH_SECRET"); v != "" {
		config.Auth.Secret = v
	}
	if v := os.Getenv("ADMINCHAT_AUTH_LEEWAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Auth.Leeway = d
		}
	}
	if v := os.Getenv("ADMINCHAT_UPLOAD_DIR"); v != "" {
		config.Upload.Dir = v
	}
	if v := os.Getenv("ADMINCHAT_UPLOAD_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Upload.MaxImageBytes = n
		}
	}
	if v := os.Getenv("ADMINCHAT_UPLOAD_MAX_MODEL_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Upload.MaxModelBytes = n
		}
	}

	return config
}

// configFile mirrors Config for JSON parsing; durations are strings.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		Host         string `json:"host"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		Secret string `json:"secret"`
		Leeway string `json:"leeway"`
	} `json:"auth"`
	Upload *struct {
		Dir           string `json:"dir"`
		MaxImageBytes int64  `json:"max_image_bytes"`
		MaxModelBytes int64  `json:"max_model_bytes"`
	} `json:"upload"`
}

// LoadFromFile layers a JSON config file over the environment and defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := LoadFromEnv()

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		applyDuration(&config.Database.Timeout, file.Database.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		applyDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		applyDuration(&config.WebSocket.PingInterval, file.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
	}
	if file.Auth != nil {
		if file.Auth.Secret != "" {
			config.Auth.Secret = file.Auth.Secret
		}
		applyDuration(&config.Auth.Leeway, file.Auth.Leeway)
	}
	if file.Upload != nil {
		if file.Upload.Dir != "" {
			config.Upload.Dir = file.Upload.Dir
		}
		if file.Upload.MaxImageBytes > 0 {
			config.Upload.MaxImageBytes = file.Upload.MaxImageBytes
		}
		if file.Upload.MaxModelBytes > 0 {
			config.Upload.MaxModelBytes = file.Upload.MaxModelBytes
		}
	}

	return config, nil
}

// LoadWithPrecedence resolves the effective configuration. File settings
// win over environment variables, which win over defaults. A missing or
// unreadable file falls back silently to environment and defaults.
func LoadWithPrecedence(path string) *Config {
	if path != "" {
		if config, err := LoadFromFile(path); err == nil {
			return config
		}
	}
	return LoadFromEnv()
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
