package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittonn/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, `
logging:
  level: "info"

namenode:
  image_dirs:
    - "`+yamlSafePath(tmpDir)+`/name1"
    - "`+yamlSafePath(tmpDir)+`/name2"
  api:
    port: 19870
    max_image_size: 512Mi

secondary:
  checkpoint_dirs: ["`+yamlSafePath(tmpDir)+`/ckpt"]
  period: 15m
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if len(cfg.Namenode.ImageDirs) != 2 {
		t.Errorf("Expected 2 image dirs, got %v", cfg.Namenode.ImageDirs)
	}
	if cfg.Namenode.API.Port != 19870 {
		t.Errorf("Expected API port 19870, got %d", cfg.Namenode.API.Port)
	}
	if cfg.Namenode.API.MaxImageSize != 512*bytesize.MiB {
		t.Errorf("Expected max image size 512Mi, got %v", cfg.Namenode.API.MaxImageSize)
	}
	if cfg.Secondary.Period != 15*time.Minute {
		t.Errorf("Expected period 15m, got %v", cfg.Secondary.Period)
	}
	if cfg.Secondary.PrimaryAddress != "http://localhost:9870" {
		t.Errorf("Expected default primary address, got %q", cfg.Secondary.PrimaryAddress)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Namenode.API.Port != 9870 {
		t.Errorf("Expected default API port 9870, got %d", cfg.Namenode.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
archive:
  enabled: true
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for an enabled archive without a bucket")
	}
}

func TestLoad_SharedDirectoryRejected(t *testing.T) {
	tmpDir := yamlSafePath(t.TempDir())
	configPath := writeConfig(t, `
namenode:
  image_dirs: ["`+tmpDir+`/shared"]
secondary:
  checkpoint_dirs: ["`+tmpDir+`/shared"]
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for a directory shared by both roles")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if len(cfg.Namenode.ImageDirs) != 1 {
		t.Errorf("Expected one default image dir, got %v", cfg.Namenode.ImageDirs)
	}
	if cfg.Secondary.Period != time.Hour {
		t.Errorf("Expected default period 1h, got %v", cfg.Secondary.Period)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	if base := filepath.Base(GetConfigDir()); base != "dittonn" {
		t.Errorf("Expected directory name 'dittonn', got %q", base)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTONN_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTONN_NAMENODE_API_PORT", "19999")

	tmpDir := yamlSafePath(t.TempDir())
	configPath := writeConfig(t, `
logging:
  level: "INFO"

namenode:
  image_dirs: ["`+tmpDir+`/name"]
  api:
    port: 9870
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Namenode.API.Port != 19999 {
		t.Errorf("Expected port 19999 from env var, got %d", cfg.Namenode.API.Port)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Secondary.Period = 5 * time.Minute
	cfg.Namenode.API.MaxImageSize = bytesize.ByteSize(bytesize.GiB)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Secondary.Period != 5*time.Minute {
		t.Errorf("Expected period 5m after reload, got %v", loaded.Secondary.Period)
	}
	if loaded.Namenode.API.MaxImageSize != bytesize.ByteSize(bytesize.GiB) {
		t.Errorf("Expected max image size 1Gi after reload, got %v", loaded.Namenode.API.MaxImageSize)
	}
}
