package webhooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// SecretSource supplies the current webhook signing secret. Implementations
// must be safe for concurrent use.
type SecretSource interface {
	Secret() string
}

// StaticSecret is a SecretSource backed by a fixed string
type StaticSecret string

func (s StaticSecret) Secret() string { return string(s) }

// FileSecret watches a secret file and reloads it on change, so the signing
// key can be rotated without restarting the service.
type FileSecret struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger

	mu     sync.RWMutex
	secret string
}

// NewFileSecret reads the secret file and starts watching its directory for
// changes. Watching the directory rather than the file keeps the watch alive
// across the rename-and-replace writes most secret managers perform.
func NewFileSecret(path string, logger *observability.Logger) (*FileSecret, error) {
	secret, err := readSecretFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch secret directory: %w", err)
	}

	fs := &FileSecret{
		path:    path,
		watcher: watcher,
		logger:  logger,
		secret:  secret,
	}
	go fs.watch()
	return fs, nil
}

// Secret returns the most recently loaded secret
func (f *FileSecret) Secret() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.secret
}

// Close stops the file watcher
func (f *FileSecret) Close() error {
	return f.watcher.Close()
}

func (f *FileSecret) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			secret, err := readSecretFile(f.path)
			if err != nil {
				f.logger.WithError(err).Warn("Failed to reload webhook secret")
				continue
			}
			f.mu.Lock()
			changed := secret != f.secret
			f.secret = secret
			f.mu.Unlock()
			if changed {
				f.logger.WithField("path", f.path).Info("Webhook secret reloaded")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.WithError(err).Warn("Webhook secret watcher error")
		}
	}
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
