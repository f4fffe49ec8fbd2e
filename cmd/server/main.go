package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	intrnl "roomchat/internal"
	"roomchat/internal/app"
)

const shutdownTimeout = 10 * time.Second

func main() {
	addr := flag.String("addr", getEnv("ROOMCHAT_ADDR", ":8080"), "server listen address")
	path := flag.String("path", getEnv("ROOMCHAT_PATH", "/ws"), "websocket path")
	db := flag.String("db", getEnv("ROOMCHAT_DB_PATH", app.DefaultDBPath()), "sqlite audit journal path, or \"off\"")
	maxAttachment := flag.String("max-attachment", getEnv("ROOMCHAT_MAX_ATTACHMENT", "5MiB"), "largest accepted attachment")
	allowedTypes := flag.String("allowed-types", getEnv("ROOMCHAT_ALLOWED_TYPES", ""), "comma separated MIME allow-list")
	messageBurst := flag.Int("message-burst", app.EnvInt("ROOMCHAT_MESSAGE_BURST", intrnl.DefaultRateLimitBurst), "chat messages per window")
	messageWindow := flag.Duration("message-window", app.EnvDuration("ROOMCHAT_MESSAGE_WINDOW", intrnl.DefaultRateLimitWindow), "chat message rate limit window")
	quiet := flag.Bool("quiet", false, "suppress all log output")
	flag.Parse()

	maxBytes, err := app.ParseAttachmentSize(*maxAttachment)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	app.ConfigureLogging(*quiet, os.Stderr)

	handle, err := app.RunServer(context.Background(), app.ServerConfig{
		Addr:              *addr,
		Path:              *path,
		DBPath:            *db,
		MaxAttachmentSize: maxBytes,
		AllowedTypes:      app.ParseAllowedTypes(*allowedTypes),
		MessageBurst:      *messageBurst,
		MessageWindow:     *messageWindow,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("roomchat server listening on %s%s", handle.Addr(), app.NormalizeWSPath(*path))

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat-server": func(ctx context.Context) error {
				return handle.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	if err := handle.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
