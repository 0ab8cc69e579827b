package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/statichttpd/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessEntry describes one completed request for the access log.
type AccessEntry struct {
	RemoteAddr string
	Method     string
	Path       string
	Protocol   string
	Header     http.Header
	Status     int
	Bytes      int64
	Duration   time.Duration
}

// AccessLogger handles access logging.
type AccessLogger struct {
	zl            zerolog.Logger
	config        config.AccessLogConfig
	realIPHeader  string
	parsedProxies parsedProxiesContainer
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	errorLog  zerolog.Logger
	accessLog *AccessLogger
	level     config.LogLevel

	// files are the writers backing file targets, kept for reopen and close.
	files []*reopenableFile
}

// reopenableFile is an io.Writer over a log file that can be swapped for a
// freshly opened handle (log rotation via SIGHUP).
type reopenableFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenableFile(path string) (*reopenableFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &reopenableFile{path: path, f: f}, nil
}

func (r *reopenableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Write(p)
}

func (r *reopenableFile) reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	newFile, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file %s: %w", r.path, err)
	}
	old := r.f
	r.f = newFile
	return old.Close()
}

func (r *reopenableFile) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// NewLogger creates a Logger writing to the targets named in cfg.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var files []*reopenableFile
	closeAll := func() {
		for _, f := range files {
			f.close()
		}
	}
	open := func(target string, fallback io.Writer) (io.Writer, error) {
		switch target {
		case "":
			return zerolog.SyncWriter(fallback), nil
		case "stdout":
			return zerolog.SyncWriter(os.Stdout), nil
		case "stderr":
			return zerolog.SyncWriter(os.Stderr), nil
		}
		f, err := openReopenableFile(target)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
		return f, nil
	}

	errorTarget := ""
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errorTarget = *cfg.ErrorLog.Target
	}
	errOut, err := open(errorTarget, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log file %s: %w", errorTarget, err)
	}

	var accessOut io.Writer
	if accessEnabled(cfg.AccessLog) {
		accessTarget := ""
		if cfg.AccessLog.Target != nil {
			accessTarget = *cfg.AccessLog.Target
		}
		accessOut, err = open(accessTarget, os.Stdout)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open access log file %s: %w", accessTarget, err)
		}
	}

	l, err := NewWithWriters(cfg, errOut, accessOut)
	if err != nil {
		closeAll()
		return nil, err
	}
	l.files = files
	return l, nil
}

// NewWithWriters creates a Logger over already-open writers. A nil accessOut
// disables access logging regardless of cfg.
func NewWithWriters(cfg *config.LoggingConfig, errOut, accessOut io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}
	if errOut == nil {
		errOut = io.Discard
	}
	level := cfg.LogLevel
	if level == "" {
		level = config.LogLevelInfo
	}

	l := &Logger{
		errorLog: zerolog.New(errOut).Level(toZerologLevel(level)).With().Timestamp().Logger(),
		level:    level,
	}

	if accessOut != nil && accessEnabled(cfg.AccessLog) {
		parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		if cfg.AccessLog.Format == "text" {
			accessOut = zerolog.ConsoleWriter{Out: accessOut, NoColor: true, TimeFormat: time.RFC3339}
		}
		al := &AccessLogger{
			zl:            zerolog.New(accessOut).With().Timestamp().Logger(),
			config:        *cfg.AccessLog,
			parsedProxies: parsedProxies,
		}
		if cfg.AccessLog.RealIPHeader != nil {
			al.realIPHeader = *cfg.AccessLog.RealIPHeader
		}
		l.accessLog = al
	}
	return l, nil
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: zerolog.Nop(), level: config.LogLevelError}
}

func accessEnabled(cfg *config.AccessLogConfig) bool {
	return cfg != nil && (cfg.Enabled == nil || *cfg.Enabled)
}

func toZerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client's IP from the direct peer address and,
// when the peer is a trusted proxy, the rightmost untrusted entry of realIPHeaderName.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" || headers == nil {
		return peer
	}
	if !isIPTrusted(net.ParseIP(peer), trustedProxies) {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	// "client, proxy1, proxy2": walk from the right.
	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return peer
}

// LogAccess writes one access log entry.
func (al *AccessLogger) LogAccess(e AccessEntry) {
	if al == nil {
		return
	}
	_, port, err := net.SplitHostPort(e.RemoteAddr)
	if err != nil {
		port = "0"
	}
	ev := al.zl.Log().
		Str("remote_addr", getRealClientIP(e.RemoteAddr, e.Header, al.realIPHeader, al.parsedProxies)).
		Str("remote_port", port).
		Str("protocol", e.Protocol).
		Str("method", e.Method).
		Str("uri", e.Path).
		Int("status", e.Status).
		Int64("resp_bytes", e.Bytes).
		Int64("duration_ms", e.Duration.Milliseconds())
	if e.Header != nil {
		if ua := e.Header.Get("User-Agent"); ua != "" {
			ev = ev.Str("user_agent", ua)
		}
		if ref := e.Header.Get("Referer"); ref != "" {
			ev = ev.Str("referer", ref)
		}
	}
	ev.Send()
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		if f != nil {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) { l.log(l.errorLog.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...LogFields)  { l.log(l.errorLog.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...LogFields)  { l.log(l.errorLog.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...LogFields) { l.log(l.errorLog.Error(), msg, fields) }

// Access records a completed request if access logging is enabled.
func (l *Logger) Access(e AccessEntry) {
	l.accessLog.LogAccess(e)
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReopenLogFiles reopens file-based targets in place, for SIGHUP-driven rotation.
func (l *Logger) ReopenLogFiles() error {
	for _, f := range l.files {
		if err := f.reopen(); err != nil {
			return err
		}
	}
	return nil
}
