package cli

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// lastUsed is what the chat client reopens on its next start
type lastUsed struct {
	AppID  string `yaml:"app_id"`
	ChatID string `yaml:"chat_id,omitempty"`
}

// stateFile keeps the last used app and chat in a yaml file
type stateFile struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func newStateFile(path string, logger *zap.Logger) *stateFile {
	return &stateFile{path: path, logger: logger}
}

// Load returns the stored state; a missing file is an empty state.
func (f *stateFile) Load() (lastUsed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st lastUsed
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	err = yaml.Unmarshal(data, &st)
	return st, err
}

func (f *stateFile) SetLastUsed(appID, chatID string) {
	f.write(lastUsed{AppID: appID, ChatID: chatID})
}

func (f *stateFile) ClearLastUsed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn("Failed to clear last used chat", zap.String("path", f.path), zap.Error(err))
	}
}

func (f *stateFile) write(st lastUsed) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(st)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(f.path), 0750)
	}
	if err == nil {
		err = os.WriteFile(f.path, data, 0600)
	}
	if err != nil {
		f.logger.Warn("Failed to save last used chat", zap.String("path", f.path), zap.Error(err))
	}
}
