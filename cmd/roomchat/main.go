package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	intrnl "roomchat/internal"
	"roomchat/internal/app"
)

const (
	modeServer  = "server"
	modeClient  = "client"
	modeLocal   = "local"
	modeVersion = "version"

	shutdownTimeout = 10 * time.Second
)

func main() {
	mode, args := parseMode(os.Args[1:])
	if mode == modeVersion {
		build := intrnl.CurrentBuild()
		fmt.Printf("roomchat %s (%s, %s)\n", build.Version, build.GoVersion, build.Platform)
		return
	}

	flagSet := flag.NewFlagSet("roomchat", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("ROOMCHAT_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("ROOMCHAT_PATH", "/ws"), "websocket path")
	db := flagSet.String("db", envOrDefault("ROOMCHAT_DB_PATH", ""), "sqlite audit journal path, or \"off\" to disable it")
	maxAttachment := flagSet.String("max-attachment", envOrDefault("ROOMCHAT_MAX_ATTACHMENT", "5MiB"), "largest accepted attachment, e.g. 5MiB or 1048576")
	allowedTypes := flagSet.String("allowed-types", envOrDefault("ROOMCHAT_ALLOWED_TYPES", ""), "comma separated MIME allow-list (empty keeps the built-in list)")
	messageBurst := flagSet.Int("message-burst", app.EnvInt("ROOMCHAT_MESSAGE_BURST", intrnl.DefaultRateLimitBurst), "chat messages a connection may send per window")
	messageWindow := flagSet.Duration("message-window", app.EnvDuration("ROOMCHAT_MESSAGE_WINDOW", intrnl.DefaultRateLimitWindow), "rate limit window for chat messages")
	retention := flagSet.Duration("audit-retention", 7*24*time.Hour, "drop audit rows of connections closed longer ago than this (0 keeps everything)")
	serverURL := flagSet.String("server-url", envOrDefault("ROOMCHAT_SERVER", "ws://localhost:8080/ws"), "server websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("ROOMCHAT_USER", ""), "display name (prompted when empty)")
	downloadDir := flagSet.String("download-dir", envOrDefault("ROOMCHAT_DOWNLOAD_DIR", ""), "where /save writes attachments")
	quiet := flagSet.Bool("quiet", false, "suppress all log output")
	flagSet.Parse(args)
	app.ConfigureLogging(*quiet, os.Stderr)

	room := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		room = remaining[0]
	}

	maxBytes, err := app.ParseAttachmentSize(*maxAttachment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(2)
	}

	serverCfg := app.ServerConfig{
		Addr:              *addr,
		Path:              app.NormalizeWSPath(*path),
		DBPath:            *db,
		MaxAttachmentSize: maxBytes,
		AllowedTypes:      app.ParseAllowedTypes(*allowedTypes),
		MessageBurst:      *messageBurst,
		MessageWindow:     *messageWindow,
		AuditRetention:    *retention,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	clientCfg := app.ClientConfig{
		ServerURL:         *serverURL,
		Username:          *username,
		Room:              room,
		DownloadDir:       *downloadDir,
		MaxAttachmentSize: maxBytes,
	}

	infof := log.Printf

	switch mode {
	case modeServer:
		err = runServerMode(serverCfg, infof)
	case modeLocal:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = runLocalMode(ctx, serverCfg, clientCfg, infof)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

// runServerMode serves until SIGINT/SIGTERM, then drains connections within
// shutdownTimeout.
func runServerMode(cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(context.Background(), cfg)
	if err != nil {
		return err
	}
	audit := cfg.DBPath
	if app.AuditDisabled(audit) {
		audit = "disabled"
	}
	infof("roomchat server listening on %s (ws path %s, audit %s)", handle.Addr(), cfg.Path, audit)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- handle.Wait()
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat-server": func(ctx context.Context) error {
				infof("graceful shutdown initiated")
				return handle.Stop(ctx)
			},
		},
	)

	select {
	case err := <-serveErr:
		return err
	case exitCode := <-wait:
		if err := <-serveErr; err != nil {
			return err
		}
		if exitCode != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", exitCode)
		}
		return nil
	}
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or ROOMCHAT_SERVER")
	}
	return app.RunClient(cfg)
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("Starting local roomchat server on %s (db %s)", handle.Addr(), serverCfg.DBPath)
	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	if err := intrnl.WaitForServer(clientCfg.ServerURL, 5*time.Second); err != nil {
		return err
	}
	infof("Launching client against %s", clientCfg.ServerURL)

	// server logs would draw over the terminal UI
	app.ConfigureLogging(true, nil)
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeWSPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
