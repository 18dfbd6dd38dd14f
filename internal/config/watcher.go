package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the current Settings reference and the watcher that
// replaces it. Current() returns the latest loaded value; the session
// manager and LLM gateway are built from the value loaded at startup and
// do not read it again.
type Manager struct {
	path    string
	logger  *log.Logger
	current atomicSettings
	watcher *fsnotify.Watcher
}

// NewManager loads path once synchronously so the daemon never starts
// with a zero-value Settings, then returns a Manager ready to Watch.
func NewManager(path string, logger *log.Logger) (*Manager, error) {
	s, err := loadSettingsFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger}
	m.current.Store(s)
	return m, nil
}

func (m *Manager) Current() Settings { return m.current.Load() }

// Reload re-reads the settings file and atomically swaps the reference.
// A parse failure leaves the previous Settings in place and is logged,
// never fataled: a bad edit to config.yaml should not take the daemon
// down (mirrors the teacher's "runtime errors are logged and returned,
// never fataled past startup" policy).
func (m *Manager) Reload() error {
	s, err := loadSettingsFile(m.path)
	if err != nil {
		m.logger.Printf("config: reload failed, keeping previous settings: %v", err)
		return err
	}
	m.current.Store(s)
	m.logger.Printf("config: reloaded settings from %s", m.path)
	return nil
}

// Watch starts an fsnotify watcher on the settings file's directory and
// triggers Reload on write/create events, debounced the same way the
// pack's file-watching provider does. It returns once the watcher is
// armed; call Stop (or cancel ctx) to tear it down.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go m.watchLoop(ctx, watcher, file)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, file string) {
	defer watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				_ = m.Reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Printf("config: watcher error: %v", err)
		}
	}
}

// Stop releases the watcher. Safe to call even if Watch was never
// called.
func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
}
