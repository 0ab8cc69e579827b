package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultServerAddress           = "127.0.0.1:5500"
	defaultWorkers                 = 4
	defaultQueueSize               = 64
	defaultMaxRequestBytes         = 4096
	minMaxRequestBytes             = 64
	defaultGracefulShutdownTimeout = "30s"

	defaultLogLevel              = LogLevelInfo
	defaultAccessLogEnabled      = true
	defaultAccessLogTarget       = "stdout"
	defaultAccessLogFormat       = "json"
	defaultAccessLogRealIPHeader = "X-Forwarded-For"
	defaultErrorLogTarget        = "stderr"

	defaultServeDirectoryListing = true
)

// LoadConfig reads, parses, defaults and validates the configuration file at path.
// Files ending in .json or .toml are parsed as such; anything else is tried
// as JSON first and then as TOML.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}

	cfg, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	cfg.originalFilePath = path

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, &ConfigError{FilePath: path, Message: "invalid configuration", Err: err}
	}
	return cfg, nil
}

func parse(data []byte, path string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse TOML config", Err: err}
		}
	default:
		jsonErr := json.Unmarshal(data, &cfg)
		if jsonErr == nil {
			break
		}
		cfg = Config{}
		tomlErr := toml.Unmarshal(data, &cfg)
		if tomlErr != nil {
			return nil, &ConfigError{
				FilePath: path,
				Message:  "failed to auto-detect and parse config",
				Err:      fmt.Errorf("JSON error: %v; TOML error: %v", jsonErr, tomlErr),
			}
		}
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration, for running without a file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	s := cfg.Server
	if s.Address == nil {
		s.Address = strPtr(defaultServerAddress)
	}
	if s.Workers == nil {
		s.Workers = intPtr(defaultWorkers)
	}
	if s.QueueSize == nil {
		s.QueueSize = intPtr(defaultQueueSize)
	}
	if s.MaxRequestBytes == nil {
		s.MaxRequestBytes = intPtr(defaultMaxRequestBytes)
	}
	if s.GracefulShutdownTimeout == nil {
		s.GracefulShutdownTimeout = strPtr(defaultGracefulShutdownTimeout)
	}

	if cfg.Static == nil {
		cfg.Static = &StaticConfig{}
	}
	if cfg.Static.MimeTypes == nil {
		cfg.Static.MimeTypes = make(map[string]string)
	}
	if cfg.Static.ServeDirectoryListing == nil {
		cfg.Static.ServeDirectoryListing = boolPtr(defaultServeDirectoryListing)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	l := cfg.Logging
	if l.LogLevel == "" {
		l.LogLevel = defaultLogLevel
	}
	if l.AccessLog == nil {
		l.AccessLog = &AccessLogConfig{}
	}
	if l.AccessLog.Enabled == nil {
		l.AccessLog.Enabled = boolPtr(defaultAccessLogEnabled)
	}
	if l.AccessLog.Target == nil {
		l.AccessLog.Target = strPtr(defaultAccessLogTarget)
	}
	if l.AccessLog.Format == "" {
		l.AccessLog.Format = defaultAccessLogFormat
	}
	if l.AccessLog.RealIPHeader == nil {
		l.AccessLog.RealIPHeader = strPtr(defaultAccessLogRealIPHeader)
	}
	if l.AccessLog.TrustedProxies == nil {
		l.AccessLog.TrustedProxies = []string{}
	}
	if l.ErrorLog == nil {
		l.ErrorLog = &ErrorLogConfig{}
	}
	if l.ErrorLog.Target == nil {
		l.ErrorLog.Target = strPtr(defaultErrorLogTarget)
	}
}

// Validate checks a defaulted configuration for invalid values.
func Validate(cfg *Config) error {
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateStatic(cfg.Static); err != nil {
		return err
	}
	return validateLogging(cfg.Logging)
}

func validateServer(s *ServerConfig) error {
	if s == nil {
		return fmt.Errorf("server section is missing")
	}
	if s.Address != nil && *s.Address == "" {
		return fmt.Errorf("server.address cannot be an empty string")
	}
	if s.Root != nil && *s.Root == "" {
		return fmt.Errorf("server.root, if provided, cannot be empty")
	}
	if s.Workers != nil && *s.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive, got %d", *s.Workers)
	}
	if s.QueueSize != nil && *s.QueueSize < 0 {
		return fmt.Errorf("server.queue_size cannot be negative, got %d", *s.QueueSize)
	}
	if s.MaxRequestBytes != nil && *s.MaxRequestBytes < minMaxRequestBytes {
		return fmt.Errorf("server.max_request_bytes must be at least %d, got %d", minMaxRequestBytes, *s.MaxRequestBytes)
	}
	for name, value := range map[string]*string{
		"server.read_timeout":              s.ReadTimeout,
		"server.write_timeout":             s.WriteTimeout,
		"server.graceful_shutdown_timeout": s.GracefulShutdownTimeout,
	} {
		if err := validateDuration(name, value); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(name string, value *string) error {
	if value == nil {
		return nil
	}
	if *value == "" {
		return fmt.Errorf("%s cannot be an empty string if specified", name)
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fmt.Errorf("invalid format for %s '%s': %w", name, *value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be a positive duration, got '%s'", name, *value)
	}
	return nil
}

func validateStatic(s *StaticConfig) error {
	if s == nil {
		return nil
	}
	for ext, mimeType := range s.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("static.mime_types key %q must start with a '.'", ext)
		}
		if mimeType == "" {
			return fmt.Errorf("static.mime_types value for %q cannot be empty", ext)
		}
	}
	if s.MimeTypesPath != nil && *s.MimeTypesPath == "" {
		return fmt.Errorf("static.mime_types_path, if provided, cannot be empty")
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	if l == nil {
		return fmt.Errorf("logging section is missing")
	}
	switch l.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", l.LogLevel)
	}
	if a := l.AccessLog; a != nil {
		if a.Target != nil && *a.Target == "" {
			return fmt.Errorf("logging.access_log.target cannot be empty")
		}
		if a.Format != "json" && a.Format != "text" {
			return fmt.Errorf("logging.access_log.format %q must be \"json\" or \"text\"", a.Format)
		}
	}
	if e := l.ErrorLog; e != nil && e.Target != nil && *e.Target == "" {
		return fmt.Errorf("logging.error_log.target cannot be empty")
	}
	return nil
}

// ResolveMimeTypesPath returns the configured MIME types file path with
// relative paths anchored at the main config file's directory.
func (c *Config) ResolveMimeTypesPath() string {
	if c == nil || c.Static == nil || c.Static.MimeTypesPath == nil {
		return ""
	}
	p := *c.Static.MimeTypesPath
	if !filepath.IsAbs(p) && c.originalFilePath != "" {
		p = filepath.Join(filepath.Dir(c.originalFilePath), p)
	}
	return p
}

// RootDir returns the absolute sandbox root, defaulting to the working directory.
func (s *ServerConfig) RootDir() (string, error) {
	if s == nil || s.Root == nil {
		return os.Getwd()
	}
	return filepath.Abs(*s.Root)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
