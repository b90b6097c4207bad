package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/binsim/binsynth-server/internal/config"
	"github.com/binsim/binsynth-server/internal/engine"
	"github.com/binsim/binsynth-server/transport"
)

const shutdownTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults baked in if omitted)")
	listenAddr := flag.String("listen", "", "WebSocket listen address, overrides config file")
	statusAddr := flag.String("status", "", "Status endpoint listen address, overrides config file")
	cachePath := flag.String("cache", "", "Filter spectrum cache path, overrides config file")
	logFile := flag.String("log", "binsynth-server.log", "Log file path")
	noMonitor := flag.Bool("no-monitor", false, "Disable the terminal monitor")
	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Parse()

	if *showHelp {
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("binsynth-server")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("===============")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nReal-time binaural synthesis over a WebSocket request/reply protocol.")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nUsage: binsynth-server [options]")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		//nolint:forbidigo // error output before logging is initialized
		fmt.Printf("failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	slog.Info("starting binsynth-server", "args", os.Args)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load configuration", "path", *configPath, "error", err)
			//nolint:forbidigo // critical error output to user
			fmt.Printf("ERROR: failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if *cachePath != "" {
		cfg.FilterCachePath = *cachePath
	}

	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		//nolint:forbidigo // critical error output to user
		fmt.Printf("ERROR: failed to build engine: %v\n", err)
		os.Exit(1)
	}

	srv := transport.NewServer(cfg.ListenAddr, cfg.StatusAddr, eng)
	errc := srv.Start()

	//nolint:forbidigo // startup message
	fmt.Printf("binsynth-server listening on %s (%d channels, block size %d)\n", cfg.ListenAddr, eng.Channels(), eng.BlockSize())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	if *noMonitor {
		//nolint:forbidigo // headless mode startup message
		fmt.Println("Monitor disabled. Running headless. Press Ctrl+C to exit.")
		select {
		case err := <-errc:
			if err != nil {
				slog.Error("transport server stopped", "error", err)
			}
		case <-sigc:
			slog.Info("received interrupt, shutting down")
		}
	} else {
		done := make(chan struct{})
		go func() {
			runMonitor(eng, srv, cfg.ListenAddr)
			close(done)
		}()

		select {
		case <-done:
			slog.Info("monitor exited, shutting down")
		case err := <-errc:
			if err != nil {
				slog.Error("transport server stopped", "error", err)
			}
		case <-sigc:
			slog.Info("received interrupt, shutting down")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
