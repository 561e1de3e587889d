package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"

	"fusion-telemetry/internal/config"
	"fusion-telemetry/internal/web"
)

const defaultConfigPath = "./fusion.yaml"

func main() {
	var (
		configPath string
		listen     string
		debug      bool
	)
	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to YAML config")
	flag.StringVar(&listen, "listen", "", "Override server.listen")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, resolvedPath, err := loadConfig(configPath, explicit)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if debug {
		cfg.Logging.Debug = true
	}

	logs := web.NewLogBuffer(cfg.Logging.BufferLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	a, err := newApp(cfg, resolvedPath, logs)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	log.Printf("fusion-telemetry starting config=%q", resolvedPath)
	if err := a.run(ctx); err != nil {
		log.Fatalf("fusion-telemetry stopped: %v", err)
	}
	log.Printf("fusion-telemetry stopped")
}

// loadConfig reads path. A missing file at the default path falls back to
// built-in defaults; resolvedPath is then empty so settings are not persisted.
func loadConfig(path string, explicit bool) (cfg config.Config, resolvedPath string, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), "", nil
	}
	return config.Config{}, "", err
}
