// Package config implements the daemon's two configuration layers: a
// process-bootstrap Config read once from the environment at startup, and
// a hot-reloadable Settings document watched on disk.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bootstrap is the process-level configuration read once at startup.
// Everything reloadable at runtime belongs in Settings instead.
type Bootstrap struct {
	BaseDir         string
	SocketPath      string
	SettingsPath    string
	ScopeConfigPath string
	ROEPath         string
	AuditLogPath    string
	MaxConnections  int
	ReadTimeout     time.Duration
	NIMAPIKey       string
}

// Load reads the bootstrap config from the environment, matching the
// releaseparty-api env(key, default) style: explicit defaults, explicit
// validation, no framework.
func Load() (Bootstrap, error) {
	cfg := Bootstrap{
		BaseDir:         env("CYBERREDD_BASE_DIR", "/var/lib/cyberredd"),
		SocketPath:      env("CYBERREDD_SOCKET", "/run/cyberredd/control.sock"),
		SettingsPath:    env("CYBERREDD_SETTINGS", "/etc/cyberredd/config.yaml"),
		ScopeConfigPath: env("CYBERREDD_SCOPE_CONFIG", "/etc/cyberredd/scope.yaml"),
		ROEPath:         env("CYBERREDD_ROE", ""),
		AuditLogPath:    env("CYBERREDD_AUDIT_LOG", "/var/lib/cyberredd/audit/audit.jsonl"),
		NIMAPIKey:       env("CYBERREDD_NIM_API_KEY", ""),
	}

	maxConn, err := envInt("CYBERREDD_MAX_CONNECTIONS", 100)
	if err != nil {
		return Bootstrap{}, err
	}
	cfg.MaxConnections = maxConn

	readTimeoutSeconds, err := envInt("CYBERREDD_READ_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Bootstrap{}, err
	}
	cfg.ReadTimeout = time.Duration(readTimeoutSeconds) * time.Second

	if strings.TrimSpace(cfg.BaseDir) == "" {
		return Bootstrap{}, errors.New("missing CYBERREDD_BASE_DIR")
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return Bootstrap{}, errors.New("missing CYBERREDD_SOCKET")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + err.Error())
	}
	return n, nil
}
