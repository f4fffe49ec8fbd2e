package main

import (
	"flag"
	"fmt"
	"os"

	"roomchat/internal/app"
)

func main() {
	defaultServer := envOrDefault("ROOMCHAT_SERVER", "ws://localhost:8080/ws")
	defaultUser := envOrDefault("ROOMCHAT_USER", "")

	serverURL := flag.String("server", defaultServer, "WebSocket URL (e.g., ws://localhost:8080/ws)")
	username := flag.String("user", defaultUser, "display name (prompted when empty)")
	downloadDir := flag.String("download-dir", envOrDefault("ROOMCHAT_DOWNLOAD_DIR", ""), "where /save writes attachments")
	flag.Parse()

	args := flag.Args()
	var room string
	if len(args) >= 1 {
		room = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL:   *serverURL,
		Room:        room,
		Username:    *username,
		DownloadDir: *downloadDir,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
