package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/irctrakz/ser2tcp/pkg/config"
	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/metrics"
	"github.com/irctrakz/ser2tcp/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

const defaultConfigFile = "ser2tcp.yaml"

// Process exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ser2tcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML or JSON configuration file (default "+defaultConfigFile+" if present)")
	printConfig := fs.Bool("print-config", false, "print the effective configuration as YAML and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitFailure
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.Errorf("config: %v", err)
		return exitFailure
	}

	if *printConfig {
		data, err := cfg.Marshal("yaml")
		if err != nil {
			logging.Errorf("config: %v", err)
			return exitFailure
		}
		fmt.Print(string(data))
		return exitSuccess
	}

	if err := cfg.ApplyLogging(); err != nil {
		logging.Errorf("logging: %v", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		return exitFailure
	}
	return exitSuccess
}

// loadConfig layers the file, when there is one, and the environment over
// the defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := config.LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
		logging.Debugf("Loaded configuration from %s", path)
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the pipelines plus the optional metrics server and snapshot
// logger until ctx is cancelled or every pipeline stopped.
func serve(ctx context.Context, cfg *config.Config) error {
	root, err := pipeline.NewRoot(pipeline.RootOptions{Config: cfg})
	if err != nil {
		logging.Errorf("Failed to build pipelines: %v", err)
		return err
	}

	auxCtx, cancelAux := context.WithCancel(ctx)
	var aux errgroup.Group
	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(metrics.ServerOptions{
			Listen: cfg.Metrics.Listen,
			Path:   cfg.Metrics.Path,
			Source: root,
		})
		fields := map[string]interface{}{
			"listen": cfg.Metrics.Listen,
			"path":   cfg.Metrics.Path,
		}
		logging.InfoWithFields(fields, "Metrics server enabled")
		aux.Go(func() error {
			if err := srv.Run(auxCtx); err != nil {
				logging.ErrorWithFields(fields, "Metrics server failed: %v", err)
			}
			return nil
		})
	}
	if cfg.Metrics.LogInterval > 0 {
		aux.Go(func() error {
			runSnapshotReporter(auxCtx, root, cfg.Metrics.LogInterval.Std(), cfg.Metrics.LogFormat)
			return nil
		})
	}

	err = root.Run(ctx)
	cancelAux()
	_ = aux.Wait()
	return err
}
