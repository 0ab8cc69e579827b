package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/handlers/staticfileserver"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/server"
)

type options struct {
	configFilePath string
	address        string
	root           string
	workers        int
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("statichttpd", flag.ContinueOnError)
	fs.StringVar(&opts.configFilePath, "config", "", "Path to the configuration file (JSON or TOML); optional")
	fs.StringVar(&opts.address, "addr", "", "Listen address, overrides server.address (default 127.0.0.1:5500)")
	fs.StringVar(&opts.root, "root", "", "Directory to serve, overrides server.root (default: working directory)")
	fs.IntVar(&opts.workers, "workers", 0, "Number of worker goroutines, overrides server.workers")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadConfig reads the optional config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configFilePath == "" {
		cfg = config.Default()
	} else {
		absConfigPath, err := filepath.Abs(opts.configFilePath)
		if err != nil {
			return nil, fmt.Errorf("getting absolute path for config file %s: %w", opts.configFilePath, err)
		}
		cfg, err = config.LoadConfig(absConfigPath)
		if err != nil {
			return nil, err
		}
	}

	if opts.address != "" {
		cfg.Server.Address = &opts.address
	}
	if opts.root != "" {
		cfg.Server.Root = &opts.root
	}
	if opts.workers != 0 {
		cfg.Server.Workers = &opts.workers
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	os.Exit(run(cfg, appLogger))
}

func run(cfg *config.Config, appLogger *logger.Logger) int {
	defer func() {
		if err := appLogger.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
	}()

	sfs, err := staticfileserver.New(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize static file server", logger.LogFields{"error": err.Error()})
		return 1
	}
	srv, err := server.NewServer(cfg, appLogger, sfs)
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := appLogger.ReopenLogFiles(); err != nil {
					appLogger.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				} else {
					appLogger.Info("Log files reopened", nil)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	appLogger.Info("Starting server", logger.LogFields{"address": *cfg.Server.Address, "root": sfs.Root()})
	if err := srv.ListenAndServe(ctx); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		return 1
	}
	appLogger.Info("Server has shut down gracefully", nil)
	return 0
}
