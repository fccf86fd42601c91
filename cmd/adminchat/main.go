package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adminchat/internal/app"
	"adminchat/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("adminchat: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	cfg := config.LoadWithPrecedence(*configPath)

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr, err := application.Start(ctx)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Printf("adminchat: received %s, shutting down", sig)
	case err, ok := <-serveErr:
		if ok && err != nil {
			log.Printf("adminchat: HTTP server failed: %v", err)
		}
	}

	return application.Stop(shutdownTimeout)
}
