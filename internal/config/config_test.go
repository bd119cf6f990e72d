package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := &Config{
		ServerURL:      "https://chat.example.com",
		DefaultProfile: "work",
		PollIntervalMS: 15000,
		SendTimeoutMS:  2000,
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ServerURL != "https://chat.example.com" {
		t.Errorf("server_url = %q", loaded.ServerURL)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("default_profile = %q", loaded.DefaultProfile)
	}
	if loaded.PollInterval() != 15*time.Second {
		t.Errorf("poll interval = %v, want 15s", loaded.PollInterval())
	}
	if loaded.SendTimeout() != 2*time.Second {
		t.Errorf("send timeout = %v, want 2s", loaded.SendTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDurationDefaults(t *testing.T) {
	var cfg Config
	if cfg.PollInterval() != DefaultPollInterval {
		t.Errorf("poll interval = %v, want default", cfg.PollInterval())
	}
	if cfg.SendTimeout() != DefaultSendTimeout {
		t.Errorf("send timeout = %v, want default", cfg.SendTimeout())
	}
}
