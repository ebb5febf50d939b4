package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RequestRetry != 3 {
		t.Errorf("RequestRetry = %d, want 3", cfg.RequestRetry)
	}
	if !strings.HasSuffix(cfg.AuthDir, ".agpool") {
		t.Errorf("AuthDir = %q, want default under home", cfg.AuthDir)
	}
	if !strings.HasSuffix(cfg.AccountsFilePath(), DefaultAccountsFileName) {
		t.Errorf("AccountsFilePath() = %q", cfg.AccountsFilePath())
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "auth-dir: /tmp/agpool-test\nproxy-url: socks5://127.0.0.1:1080\nrequest-retry: 5\ndebug: true\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.AuthDir != "/tmp/agpool-test" {
		t.Errorf("AuthDir = %q", cfg.AuthDir)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if cfg.RequestRetry != 5 {
		t.Errorf("RequestRetry = %d, want 5", cfg.RequestRetry)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestLoadConfigExpandsHomeDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth-dir: ~/custom-auth\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if strings.HasPrefix(cfg.AuthDir, "~") {
		t.Errorf("AuthDir = %q, tilde not expanded", cfg.AuthDir)
	}
	if !strings.HasSuffix(cfg.AuthDir, "custom-auth") {
		t.Errorf("AuthDir = %q", cfg.AuthDir)
	}
}

func TestLoadConfigRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n\t- broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() accepted invalid YAML")
	}
}
