package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	intrnl "roomchat/internal"
)

// AuditOff disables the SQLite audit journal when used as the database path.
const AuditOff = "off"

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr              string
	Path              string
	DBPath            string
	MaxAttachmentSize int64
	AllowedTypes      []string
	MessageBurst      int
	MessageWindow     time.Duration
	AuditRetention    time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL         string
	Username          string
	Room              string
	DownloadDir       string
	MaxAttachmentSize int64
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "roomchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat", "roomchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Roomchat", "roomchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Roomchat", "roomchat.db")
		}
		return filepath.Join(home, ".local", "share", "roomchat", "roomchat.db")
	}
	return filepath.Join(".", ".roomchat", "roomchat.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// AuditDisabled reports whether path turns the audit journal off.
func AuditDisabled(path string) bool {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case AuditOff, "none", "false":
		return true
	}
	return false
}

// ParseAllowedTypes splits a comma separated MIME list. An empty input yields
// nil so the server falls back to its built-in list.
func ParseAllowedTypes(raw string) []string {
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}

// ParseByteSize accepts plain byte counts or humanized sizes such as "5MiB".
func ParseByteSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", raw, err)
	}
	if size > 1<<40 {
		return 0, fmt.Errorf("parse size %q: too large", raw)
	}
	return int64(size), nil
}

// ParseAttachmentSize parses the attachment cap. Sizes above
// the hard ceiling are refused rather than silently clamped.
func ParseAttachmentSize(raw string) (int64, error) {
	size, err := ParseByteSize(raw)
	if err != nil {
		return 0, err
	}
	if size > intrnl.MaxAttachmentCeiling {
		return 0, fmt.Errorf("attachment size %s exceeds the %s ceiling",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(intrnl.MaxAttachmentCeiling)))
	}
	return size, nil
}

// EnvInt reads an integer environment variable, falling back when it is unset
// or malformed.
func EnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", key, raw, err)
		return fallback
	}
	return value
}

// EnvDuration reads a duration such as "10s" from the environment.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", key, raw, err)
		return fallback
	}
	return value
}

// ConfigureLogging routes the standard logger to w, or discards everything
// when quiet is set. Server and controller diagnostics all go through it.
func ConfigureLogging(quiet bool, w io.Writer) {
	if quiet || w == nil {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(w)
}

// isFilesystemPath is false for DSN forms such as in-memory databases.
func isFilesystemPath(path string) bool {
	return !strings.HasPrefix(path, "sqlite://") &&
		!strings.HasPrefix(path, "file:") &&
		!strings.HasPrefix(path, ":memory:")
}
