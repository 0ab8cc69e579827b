package config

import (
	"fmt"
	"time"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Static  *StaticConfig  `json:"static,omitempty" toml:"static,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`

	// originalFilePath is the absolute path of the file this config was loaded from.
	originalFilePath string
}

// ServerConfig holds listener, sandbox root and worker pool settings.
type ServerConfig struct {
	Address *string `json:"address,omitempty" toml:"address,omitempty"`
	// Root is the directory below which all serving is sandboxed.
	// Defaults to the process working directory.
	Root            *string `json:"root,omitempty" toml:"root,omitempty"`
	Workers         *int    `json:"workers,omitempty" toml:"workers,omitempty"`
	QueueSize       *int    `json:"queue_size,omitempty" toml:"queue_size,omitempty"`
	MaxRequestBytes *int    `json:"max_request_bytes,omitempty" toml:"max_request_bytes,omitempty"`
	// ReadTimeout and WriteTimeout are unset by default: a stalled client
	// then holds its worker until it goes away.
	ReadTimeout             *string `json:"read_timeout,omitempty" toml:"read_timeout,omitempty"`                           // e.g., "10s"
	WriteTimeout            *string `json:"write_timeout,omitempty" toml:"write_timeout,omitempty"`                         // e.g., "10s"
	GracefulShutdownTimeout *string `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty"` // e.g., "30s"
}

// StaticConfig configures how resolved files are classified and listed.
type StaticConfig struct {
	// MimeTypes maps extensions (".ext") to MIME types, overriding the built-in table.
	MimeTypes map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty"`
	// MimeTypesPath is a JSON file of the same shape; it takes precedence over MimeTypes.
	// Relative paths are resolved against the directory of the main config file.
	MimeTypesPath         *string `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty"`
	ServeDirectoryListing *bool   `json:"serve_directory_listing,omitempty" toml:"serve_directory_listing,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty"` // "json" or "text"
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty"`
}

// ConfigError describes a problem with a configuration file or value.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.FilePath != "" {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.FilePath)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// OriginalFilePath returns the path the configuration was loaded from,
// or "" for programmatic configs.
func (c *Config) OriginalFilePath() string {
	if c == nil {
		return ""
	}
	return c.originalFilePath
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// ReadTimeoutValue returns the parsed read timeout, or 0 when disabled.
func (s *ServerConfig) ReadTimeoutValue() time.Duration {
	return durationOrZero(s.ReadTimeout)
}

// WriteTimeoutValue returns the parsed write timeout, or 0 when disabled.
func (s *ServerConfig) WriteTimeoutValue() time.Duration {
	return durationOrZero(s.WriteTimeout)
}

// GracefulShutdownTimeoutValue returns the parsed shutdown grace period.
func (s *ServerConfig) GracefulShutdownTimeoutValue() time.Duration {
	return durationOrZero(s.GracefulShutdownTimeout)
}

// durationOrZero assumes the value was already checked by validate.
func durationOrZero(s *string) time.Duration {
	if s == nil || *s == "" {
		return 0
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0
	}
	return d
}
