package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "8081" {
		t.Errorf("HTTPPort = %s, want 8081", cfg.HTTPPort)
	}
	if cfg.AlertCapacity != 100 {
		t.Errorf("AlertCapacity = %d, want 100", cfg.AlertCapacity)
	}
	if cfg.WatchdogPeriod != 10*time.Second {
		t.Errorf("WatchdogPeriod = %s, want 10s", cfg.WatchdogPeriod)
	}
	if cfg.InactivityTimeout != 30*time.Second {
		t.Errorf("InactivityTimeout = %s, want 30s", cfg.InactivityTimeout)
	}
	if cfg.ProcessEvery != 2 {
		t.Errorf("ProcessEvery = %d, want 2", cfg.ProcessEvery)
	}
	if cfg.DownsampleFactor != 4 {
		t.Errorf("DownsampleFactor = %d, want 4", cfg.DownsampleFactor)
	}
	if cfg.FaceSkip {
		t.Error("FaceSkip defaults to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("FACE_SKIP", "true")
	t.Setenv("INACTIVITY_TIMEOUT", "45s")
	t.Setenv("ALERT_CAPACITY", "250")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001234567890")

	cfg := Load()
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %s, want 9090", cfg.HTTPPort)
	}
	if !cfg.FaceSkip {
		t.Error("FaceSkip = false, want true")
	}
	if cfg.InactivityTimeout != 45*time.Second {
		t.Errorf("InactivityTimeout = %s, want 45s", cfg.InactivityTimeout)
	}
	if cfg.AlertCapacity != 250 {
		t.Errorf("AlertCapacity = %d, want 250", cfg.AlertCapacity)
	}
	if cfg.TelegramChatID != -1001234567890 {
		t.Errorf("TelegramChatID = %d, want -1001234567890", cfg.TelegramChatID)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WATCHDOG_PERIOD", "soon")
	t.Setenv("PROCESS_EVERY", "always")
	t.Setenv("FACE_SKIP", "maybe")

	cfg := Load()
	if cfg.WatchdogPeriod != 10*time.Second {
		t.Errorf("WatchdogPeriod = %s, want fallback 10s", cfg.WatchdogPeriod)
	}
	if cfg.ProcessEvery != 2 {
		t.Errorf("ProcessEvery = %d, want fallback 2", cfg.ProcessEvery)
	}
	if cfg.FaceSkip {
		t.Error("FaceSkip = true, want fallback false")
	}
}

func TestLoadCameraManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.yml")
	manifest := `cameras:
  - id: entrance
    source: http://10.0.0.11:8080/stream
  - id: lab
    source: http://10.0.0.12:8080/stream
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}

	specs, err := LoadCameraManifest(path)
	if err != nil {
		t.Fatalf("LoadCameraManifest() error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d cameras, want 2", len(specs))
	}
	if specs[0].ID != "entrance" || specs[1].Source != "http://10.0.0.12:8080/stream" {
		t.Errorf("unexpected specs: %+v", specs)
	}
}

func TestLoadCameraManifestErrors(t *testing.T) {
	if _, err := LoadCameraManifest(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file accepted")
	}

	bad := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(bad, []byte("cameras: [{id: '', source: ''}]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCameraManifest(bad); err == nil {
		t.Error("camera without id and source accepted")
	}

	garbled := filepath.Join(t.TempDir(), "garbled.yml")
	if err := os.WriteFile(garbled, []byte("cameras: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCameraManifest(garbled); err == nil {
		t.Error("unparsable YAML accepted")
	}
}
