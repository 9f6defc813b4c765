package config

import (
	"os"
	"testing"
	"time"
)

const validConfigYAML = `
session:
  slack_scope: thread
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	reloaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err != nil {
			errs <- err
			return
		}
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(validConfigYAML+"\n# trigger\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LLM.DefaultProvider != "anthropic" {
			t.Fatalf("got default provider %q, want anthropic", cfg.LLM.DefaultProvider)
		}
	case err := <-errs:
		t.Fatalf("unexpected reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestWatchReportsParseErrors(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	errs := make(chan error, 4)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err != nil {
			errs <- err
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("server:\n  unknown_field: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a non-nil parse error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}

func TestWatchCloseStopsGoroutine(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	w, err := Watch(path, func(*Config, error) {})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
