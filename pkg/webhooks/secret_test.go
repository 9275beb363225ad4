package webhooks

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

func TestFileSecret_LoadsInitialValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("whsec_initial\n"), 0600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}

	fs, err := NewFileSecret(path, observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err != nil {
		t.Fatalf("Failed to create file secret: %v", err)
	}
	defer fs.Close()

	if fs.Secret() != "whsec_initial" {
		t.Errorf("Expected trimmed initial secret, got %q", fs.Secret())
	}
}

func TestFileSecret_ReloadsOnRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("whsec_old"), 0600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}

	fs, err := NewFileSecret(path, observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err != nil {
		t.Fatalf("Failed to create file secret: %v", err)
	}
	defer fs.Close()

	if err := os.WriteFile(path, []byte("whsec_new"), 0600); err != nil {
		t.Fatalf("Failed to rotate secret file: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for fs.Secret() != "whsec_new" {
		select {
		case <-deadline:
			t.Fatalf("Secret never reloaded, still %q", fs.Secret())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFileSecret_MissingFile(t *testing.T) {
	_, err := NewFileSecret(filepath.Join(t.TempDir(), "absent"), observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err == nil {
		t.Error("Expected error for missing secret file")
	}
}

func TestFileSecret_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}
	if _, err := NewFileSecret(path, observability.NewLogger(observability.ErrorLevel, io.Discard)); err == nil {
		t.Error("Expected error for empty secret file")
	}
}
