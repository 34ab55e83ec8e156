package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/netcore/internal/config"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Trace.UDPSize != 40 {
		t.Errorf("Trace.UDPSize = %d, want 40", cfg.Trace.UDPSize)
	}
	if cfg.Trace.BasePort != 33434 {
		t.Errorf("Trace.BasePort = %d, want 33434", cfg.Trace.BasePort)
	}
	if cfg.Trace.RequestTimeout != 1000*time.Millisecond {
		t.Errorf("Trace.RequestTimeout = %v, want 1000ms", cfg.Trace.RequestTimeout)
	}
	if cfg.Trace.RequestLimit != 100 {
		t.Errorf("Trace.RequestLimit = %d, want 100", cfg.Trace.RequestLimit)
	}
	if cfg.Trace.HopsLimit != 10 {
		t.Errorf("Trace.HopsLimit = %d, want 10", cfg.Trace.HopsLimit)
	}
	if cfg.Trace.Retries != 3 {
		t.Errorf("Trace.Retries = %d, want 3", cfg.Trace.Retries)
	}
	if cfg.Trace.Address != "any" {
		t.Errorf("Trace.Address = %q, want %q", cfg.Trace.Address, "any")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Default() failed validation: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	content := `
# trace defaults for lab probes
[trace]
udp size = 64
base port = 40000
request timeout = 500
request limit = 50
hops limit = 20
retries = 5
address = 192.0.2.1

[log]
level = debug
format = text

[metrics]
addr = :9200
path = /custom-metrics
`

	path := writeTemp(t, content)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Trace.UDPSize != 64 {
		t.Errorf("Trace.UDPSize = %d, want 64", cfg.Trace.UDPSize)
	}
	if cfg.Trace.BasePort != 40000 {
		t.Errorf("Trace.BasePort = %d, want 40000", cfg.Trace.BasePort)
	}
	if cfg.Trace.RequestTimeout != 500*time.Millisecond {
		t.Errorf("Trace.RequestTimeout = %v, want 500ms", cfg.Trace.RequestTimeout)
	}
	if cfg.Trace.RequestLimit != 50 {
		t.Errorf("Trace.RequestLimit = %d, want 50", cfg.Trace.RequestLimit)
	}
	if cfg.Trace.HopsLimit != 20 {
		t.Errorf("Trace.HopsLimit = %d, want 20", cfg.Trace.HopsLimit)
	}
	if cfg.Trace.Retries != 5 {
		t.Errorf("Trace.Retries = %d, want 5", cfg.Trace.Retries)
	}
	if cfg.Trace.Address != "192.0.2.1" {
		t.Errorf("Trace.Address = %q, want %q", cfg.Trace.Address, "192.0.2.1")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}
}

// TestLoadColonDelimiter exercises the INI reader's native support for
// ":" as an entry delimiter alongside "=".
func TestLoadColonDelimiter(t *testing.T) {
	t.Parallel()

	content := `
[trace]
hops limit : 25
`
	path := writeTemp(t, content)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Trace.HopsLimit != 25 {
		t.Errorf("Trace.HopsLimit = %d, want 25", cfg.Trace.HopsLimit)
	}
}

// TestLoadMergesDefaults verifies a partial file inherits every omitted
// key from Default().
func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	content := `
[trace]
hops limit = 30
`
	path := writeTemp(t, content)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Trace.HopsLimit != 30 {
		t.Errorf("Trace.HopsLimit = %d, want 30", cfg.Trace.HopsLimit)
	}

	// Everything else should retain the default.
	if cfg.Trace.UDPSize != 40 {
		t.Errorf("Trace.UDPSize = %d, want default 40", cfg.Trace.UDPSize)
	}
	if cfg.Trace.BasePort != 33434 {
		t.Errorf("Trace.BasePort = %d, want default 33434", cfg.Trace.BasePort)
	}
	if cfg.Trace.RequestLimit != 100 {
		t.Errorf("Trace.RequestLimit = %d, want default 100", cfg.Trace.RequestLimit)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, "info")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/netcore.ini")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// TestMergeInheritsMissingKey exercises scenario S6: Merge(dst, src)
// keeps every key dst already defines, and fills in only the keys dst
// lacks from src — here, dst omits "hops limit" entirely, so the lookup
// on the merged config resolves to src's value of 20.
func TestMergeInheritsMissingKey(t *testing.T) {
	t.Parallel()

	dstPath := writeTemp(t, `
[trace]
base port = 40000
`)
	srcPath := writeTemp(t, `
[trace]
base port = 50000
hops limit = 20
`)

	dst, err := config.Load(dstPath)
	if err != nil {
		t.Fatalf("Load(dst) error: %v", err)
	}
	src, err := config.Load(srcPath)
	if err != nil {
		t.Fatalf("Load(src) error: %v", err)
	}

	merged := config.Merge(dst, src)

	if merged.Trace.BasePort != 40000 {
		t.Errorf("merged Trace.BasePort = %d, want 40000 (dst wins)", merged.Trace.BasePort)
	}

	got, ok := merged.Lookup("trace", "hops limit")
	if !ok {
		t.Fatal("merged config missing (trace, hops limit) entirely")
	}
	if got != "20" {
		t.Errorf("merged (trace, hops limit) = %q, want %q", got, "20")
	}
	if merged.Trace.HopsLimit != 20 {
		t.Errorf("merged Trace.HopsLimit = %d, want 20", merged.Trace.HopsLimit)
	}
}

func TestMergeDoesNotOverwriteDst(t *testing.T) {
	t.Parallel()

	dstPath := writeTemp(t, `
[trace]
retries = 1
`)
	srcPath := writeTemp(t, `
[trace]
retries = 9
`)

	dst, _ := config.Load(dstPath)
	src, _ := config.Load(srcPath)

	merged := config.Merge(dst, src)

	if merged.Trace.Retries != 1 {
		t.Errorf("merged Trace.Retries = %d, want 1 (dst must not be overwritten)", merged.Trace.Retries)
	}
}

func TestLookupMissingKey(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	if _, ok := cfg.Lookup("trace", "nonexistent"); ok {
		t.Fatal("Lookup found a key that was never set")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "zero request limit",
			modify: func(cfg *config.Config) {
				cfg.Trace.RequestLimit = 0
			},
			wantErr: config.ErrInvalidRequestLimit,
		},
		{
			name: "negative request limit",
			modify: func(cfg *config.Config) {
				cfg.Trace.RequestLimit = -1
			},
			wantErr: config.ErrInvalidRequestLimit,
		},
		{
			name: "zero hops limit",
			modify: func(cfg *config.Config) {
				cfg.Trace.HopsLimit = 0
			},
			wantErr: config.ErrInvalidHopsLimit,
		},
		{
			name: "zero request timeout",
			modify: func(cfg *config.Config) {
				cfg.Trace.RequestTimeout = 0
			},
			wantErr: config.ErrInvalidRequestTimeout,
		},
		{
			name: "negative request timeout",
			modify: func(cfg *config.Config) {
				cfg.Trace.RequestTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidRequestTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// writeTemp creates a temporary INI file and returns its path. The file
// is cleaned up automatically when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "netcore.ini")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
