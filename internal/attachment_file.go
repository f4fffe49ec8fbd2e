package internal

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

var errNotAFile = errors.New("not a regular file")

// loadAttachment reads path into an Attachment. The MIME type comes from the
// file extension and falls back to content detection when the extension is
// unknown. Files above maxSize are refused before they are read.
func loadAttachment(path string, maxSize int64) (*Attachment, error) {
	path = expandHome(strings.TrimSpace(path))
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, errNotAFile)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%s is %s, limit is %s: %w", filepath.Base(path), formatFileSize(info.Size()), formatFileSize(maxSize), ErrSizeLimitExceeded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return &Attachment{
		Name: filepath.Base(path),
		Size: int64(len(data)),
		Type: normalizeMediaType(mediaType),
		Data: data,
	}, nil
}

// saveAttachment writes the attachment into dir without overwriting existing
// files and returns the path it chose.
func saveAttachment(dir string, attachment Attachment) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	name := sanitizePathComponent(attachment.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for attempt := 0; attempt < 1000; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, attempt, ext)
		}
		target := filepath.Join(dir, candidate)
		file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := file.Write(attachment.Data); err != nil {
			_ = file.Close()
			return "", err
		}
		return target, file.Close()
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

// defaultDownloadDir returns a sensible place for saved attachments
func defaultDownloadDir() string {
	if env := os.Getenv("ROOMCHAT_DOWNLOAD_DIR"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		downloadsPath := filepath.Join(home, "Downloads")
		if _, err := os.Stat(downloadsPath); err == nil {
			return filepath.Join(downloadsPath, "roomchat")
		}
		return filepath.Join(home, "roomchat-downloads")
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// sanitizePathComponent removes dangerous characters from path components
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
