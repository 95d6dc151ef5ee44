package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const overlayYAML = `
http_addr: 127.0.0.1:9000
log_format: pretty
capture_max_seconds: 120
playback_sample_interval: 100ms
ws_allowed_origins:
  - https://campus.example
`

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campus.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CAMPUS_CONFIG_FILE", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" || cfg.DBSchema != "campus" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CaptureMinSeconds != 0 || cfg.CaptureMaxSeconds != 0 || !cfg.PlaybackExclusive {
		t.Fatalf("unexpected capture/playback defaults: %+v", cfg)
	}

	rt := cfg.Realtime()
	if rt.MediaPath != mediaPath || !rt.OriginRequired || rt.RequireAuth {
		t.Fatalf("unexpected realtime config: %+v", rt)
	}
	if rt.CaptureMaxBytes != cfg.MediaMaxBytes || rt.CaptureMaxBytes != 25<<20 {
		t.Fatalf("capture byte budget=%d want %d", rt.CaptureMaxBytes, cfg.MediaMaxBytes)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeConfigFile(t, overlayYAML)
	t.Setenv("CAMPUS_HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("CAMPUS_CAPTURE_MIN_SECONDS", "1")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9100" {
		t.Fatalf("env did not override file: %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "pretty" || cfg.CaptureMaxSeconds != 120 || cfg.CaptureMinSeconds != 1 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.PlaybackSampleInterval != 100*time.Millisecond {
		t.Fatalf("sample interval=%s", cfg.PlaybackSampleInterval)
	}
	if len(cfg.WSAllowedOrigins) != 1 || cfg.WSAllowedOrigins[0] != "https://campus.example" {
		t.Fatalf("origins=%v", cfg.WSAllowedOrigins)
	}
	// Keys absent from the file keep their defaults.
	if cfg.WSSendQueueSize != DefaultConfig().WSSendQueueSize {
		t.Fatalf("send queue=%d", cfg.WSSendQueueSize)
	}
}

func TestLoadConfig_EnvList(t *testing.T) {
	t.Setenv("CAMPUS_CONFIG_FILE", "")
	t.Setenv("CAMPUS_WS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if strings.Join(cfg.WSAllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("origins=%v", cfg.WSAllowedOrigins)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad format", yaml: "log_format: xml\n", want: "log_format"},
		{name: "inverted capture bounds", yaml: "capture_min_seconds: 10\ncapture_max_seconds: 5\n", want: "capture_min_seconds"},
		{name: "auth without key", yaml: "ws_require_auth: true\n", want: "auth_public_key_hex"},
		{name: "ready without db", yaml: "readiness_require_db: true\n", want: "database_url"},
		{name: "malformed", yaml: "http_addr: [\n", want: "config: parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
