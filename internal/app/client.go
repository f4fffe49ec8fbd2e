package app

import (
	"errors"

	intrnl "roomchat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunClient(intrnl.ClientOptions{
		ServerURL:         cfg.ServerURL,
		Username:          cfg.Username,
		Room:              cfg.Room,
		DownloadDir:       cfg.DownloadDir,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
	})
}
