// Package config manages the JSON settings file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Settings is the full application configuration.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Database DatabaseSettings `json:"database"`
	Pairing  PairingSettings  `json:"pairing"`
	Auth     AuthSettings     `json:"auth"`
	Log      LogSettings      `json:"log"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	ListenAddr string `json:"listenAddr"`
}

// DatabaseSettings configures the key/value store location.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// PairingSettings configures the simulated device handshake.
type PairingSettings struct {
	DelaySeconds int `json:"delaySeconds"`
}

// AuthSettings configures the mock OTP sign-in.
type AuthSettings struct {
	OTPTTLSeconds int `json:"otpTtlSeconds"`
}

// LogSettings configures log file rotation. An empty File logs to stdout only.
type LogSettings struct {
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMb"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
}

// DefaultSettings returns the configuration used when no settings file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Server:   ServerSettings{ListenAddr: ":8480"},
		Database: DatabaseSettings{Path: "data/pulsehub.db"},
		Pairing:  PairingSettings{DelaySeconds: 3},
		Auth:     AuthSettings{OTPTTLSeconds: 300},
		Log: LogSettings{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Manager loads and saves the settings file.
type Manager struct {
	path string
	fs   afero.Fs
	mu   sync.RWMutex
}

// NewManager creates a manager over the OS filesystem.
func NewManager(path string) *Manager {
	return NewManagerWithFs(path, afero.NewOsFs())
}

// NewManagerWithFs creates a manager over the given filesystem; tests pass an
// in-memory one.
func NewManagerWithFs(path string, fs afero.Fs) *Manager {
	return &Manager{path: path, fs: fs}
}

// Load reads the settings file. A missing file yields the defaults.
func (m *Manager) Load() (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, err := afero.ReadFile(m.fs, m.path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// Save writes the settings atomically: temp file in the same directory, then
// rename over the target.
func (m *Manager) Save(settings *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := m.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, raw, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
