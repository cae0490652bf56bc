package internal

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Projects = []ProjectConfig{
		{Name: "main", Path: "/tmp/vault"},
		{Name: "work", Path: "/tmp/work"},
	}
	return cfg
}

func TestConfigValidate_Defaults(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate_Projects(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Projects = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty projects accepted")
	}

	cfg = validConfig()
	cfg.Projects[1].Name = "main"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("duplicate project name accepted: %v", err)
	}

	cfg = validConfig()
	cfg.Projects[0].Name = "Bad Name!"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid project name accepted")
	}
}

func TestConfigValidate_HTTPPort(t *testing.T) {
	cfg := validConfig()
	cfg.App.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 accepted")
	}
	cfg.App.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("port 70000 accepted")
	}
}

func TestConfigValidate_Sync(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Debounce = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative debounce accepted")
	}
}

func TestConfigValidate_Auth(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = AuthModeToken
	if err := cfg.Validate(); err == nil {
		t.Error("token mode without token accepted")
	}
	cfg.Auth.Token = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("token mode with token rejected: %v", err)
	}
	if !cfg.Auth.AuthEnabled() {
		t.Error("AuthEnabled false in token mode")
	}

	cfg.Auth = AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty auth rejected: %v", err)
	}
	if cfg.Auth.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want disabled", cfg.Auth.Mode)
	}
}
