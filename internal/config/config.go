// Package config reads the plain INI-like configuration surface that EVM,
// STORE, and TRACE consume for their defaults: `[section]` headers,
// `key = value` (or `key : value`) entries with case-insensitive keys and
// trimmed values, and `#` comments. Parsing is delegated to gopkg.in/ini.v1,
// which recognizes both `=` and `:` as entry delimiters natively.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string
	// Format is the log output format: "json" or "text".
	Format string
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string
}

// TraceConfig holds the "trace" section recognized options (§6): defaults
// used whenever the caller omits the corresponding trace.Start argument or
// the file omits the key.
type TraceConfig struct {
	UDPSize        int
	BasePort       int
	RequestTimeout time.Duration
	RequestLimit   int
	HopsLimit      int
	Retries        int
	Address        string
}

// Config is a fully parsed configuration, holding both the typed views
// used by EVM/STORE/TRACE and the underlying *ini.File for generic
// section/key lookups (used by Merge and by callers with their own
// sections).
type Config struct {
	file *ini.File

	Log     LogConfig
	Metrics MetricsConfig
	Trace   TraceConfig
}

// Default returns a Config populated with every documented default and no
// backing file.
func Default() *Config {
	return &Config{
		file: ini.Empty(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Trace: TraceConfig{
			UDPSize:        40,
			BasePort:       33434,
			RequestTimeout: 1000 * time.Millisecond,
			RequestLimit:   100,
			HopsLimit:      10,
			Retries:        3,
			Address:        "any",
		},
	}
}

// Load reads and parses the INI file at path, overlaying recognized keys
// on top of Default().
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	return fromFile(f), nil
}

func fromFile(f *ini.File) *Config {
	cfg := Default()
	cfg.file = f

	trace := f.Section("trace")
	cfg.Trace.UDPSize = trace.Key("udp size").MustInt(cfg.Trace.UDPSize)
	cfg.Trace.BasePort = trace.Key("base port").MustInt(cfg.Trace.BasePort)
	cfg.Trace.RequestTimeout = time.Duration(trace.Key("request timeout").
		MustInt(int(cfg.Trace.RequestTimeout/time.Millisecond))) * time.Millisecond
	cfg.Trace.RequestLimit = trace.Key("request limit").MustInt(cfg.Trace.RequestLimit)
	cfg.Trace.HopsLimit = trace.Key("hops limit").MustInt(cfg.Trace.HopsLimit)
	cfg.Trace.Retries = trace.Key("retries").MustInt(cfg.Trace.Retries)
	cfg.Trace.Address = trace.Key("address").MustString(cfg.Trace.Address)

	logSec := f.Section("log")
	cfg.Log.Level = logSec.Key("level").MustString(cfg.Log.Level)
	cfg.Log.Format = logSec.Key("format").MustString(cfg.Log.Format)

	metricsSec := f.Section("metrics")
	cfg.Metrics.Addr = metricsSec.Key("addr").MustString(cfg.Metrics.Addr)
	cfg.Metrics.Path = metricsSec.Key("path").MustString(cfg.Metrics.Path)

	return cfg
}

// Lookup returns the raw string value of key in section, and whether it
// was present. This is the generic surface other consumers of the same
// configuration file format can use without a dedicated typed section.
func (c *Config) Lookup(section, key string) (string, bool) {
	if c.file == nil {
		return "", false
	}

	sec, err := c.file.GetSection(section)
	if err != nil {
		return "", false
	}

	k, err := sec.GetKey(key)
	if err != nil {
		return "", false
	}

	return k.Value(), true
}

// Merge returns a new Config containing every key from dst, plus any key
// present in src but absent from dst (scenario S6: a destination config
// inherits entries it is missing from a source config, without
// overwriting anything it already defines).
func Merge(dst, src *Config) *Config {
	merged := ini.Empty()

	for _, sec := range dst.file.Sections() {
		mergedSec, _ := merged.NewSection(sec.Name())
		for _, key := range sec.Keys() {
			mergedSec.Key(key.Name()).SetValue(key.Value())
		}
	}

	for _, sec := range src.file.Sections() {
		mergedSec, _ := merged.NewSection(sec.Name())
		for _, key := range sec.Keys() {
			if !mergedSec.HasKey(key.Name()) {
				mergedSec.Key(key.Name()).SetValue(key.Value())
			}
		}
	}

	return fromFile(merged)
}

// Validation errors.
var (
	// ErrInvalidRequestLimit indicates the trace slot-pool size is non-positive.
	ErrInvalidRequestLimit = errors.New("trace.request limit must be >= 1")

	// ErrInvalidHopsLimit indicates the default max ttl is non-positive.
	ErrInvalidHopsLimit = errors.New("trace.hops limit must be >= 1")

	// ErrInvalidRequestTimeout indicates the per-probe timeout is non-positive.
	ErrInvalidRequestTimeout = errors.New("trace.request timeout must be > 0")
)

// Validate checks the parsed Trace section for values the probe scheduler
// cannot operate with.
func Validate(cfg *Config) error {
	if cfg.Trace.RequestLimit < 1 {
		return ErrInvalidRequestLimit
	}
	if cfg.Trace.HopsLimit < 1 {
		return ErrInvalidHopsLimit
	}
	if cfg.Trace.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
