package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fleetd/internal/common/fsutil"
	"fleetd/internal/config"
	"fleetd/internal/fleet"
	"fleetd/internal/httpapi"
	"fleetd/internal/runtime"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetd",
		Short:         "Gateway that schedules inference requests across a pool of model-serving workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return runServe(cmd) },
	}

	root.Flags().String("addr", envOr("FLEETD_ADDR", ":8080"), "HTTP listen address")
	root.Flags().String("config", envOr("FLEETD_CONFIG", ""), "Path to config file (.yaml/.json/.toml)")
	root.Flags().String("worker-image", envOr("WORKER_IMAGE", "ollama/ollama:latest"), "Worker container image")
	root.Flags().String("worker-network", envOr("WORKER_NETWORK", ""), "Docker network shared with workers")
	root.Flags().String("default-model", envOr("DEFAULT_MODEL", ""), "Model provisioned onto every worker")
	root.Flags().Bool("auto-replace", false, "Respawn demoted workers up to the desired fleet size")
	root.Flags().String("log-level", envOr("FLEETD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")

	return root
}

func runServe(cmd *cobra.Command) error {
	log := newLogger(flagStr(cmd, "log-level"))

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt := runtime.NewDockerCLI(runtime.DockerConfig{
		Bin:     cfg.DockerBin,
		Image:   cfg.WorkerImage,
		Label:   cfg.WorkerLabel,
		Network: cfg.WorkerNetwork,
		Volume:  cfg.DataVolume,
		GPUs:    cfg.GPUs,
		Port:    cfg.WorkerPort,
	}, log)

	fl := fleet.New(rt, fleet.Config{
		DefaultModel:          cfg.DefaultModel,
		WorkerLabel:           cfg.WorkerLabel,
		ProvisionTimeout:      secs(cfg.ProvisionTimeoutSec),
		ProbeInterval:         secs(cfg.ProbeIntervalSec),
		ProbeTimeout:          secs(cfg.ProbeTimeoutSec),
		ProbeFailureThreshold: cfg.ProbeFailureThreshold,
		QueueMaxWait:          secs(cfg.QueueMaxWaitSec),
		MaxQueueDepth:         cfg.MaxQueueDepth,
		AutoReplace:           cfg.AutoReplace,
		Logger:                log,
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)

	fl.Start(baseCtx)
	mux := httpapi.NewMux(fl)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("image", cfg.WorkerImage).Msg("fleetd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	baseCancel()
	grace := 10 * time.Second
	if cfg.ShutdownGraceSec > 0 {
		grace = secs(cfg.ShutdownGraceSec)
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	fl.Close()
	return nil
}

// loadConfig merges the optional config file with command-line flags; flags
// win for the handful of settings exposed on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if path := flagStr(cmd, "config"); path != "" {
		expanded, err := fsutil.ExpandHome(path)
		if err != nil {
			return cfg, err
		}
		cfg, err = config.Load(expanded)
		if err != nil {
			return cfg, err
		}
	}
	if v := flagStr(cmd, "addr"); v != "" && (cfg.Addr == "" || cmd.Flags().Changed("addr")) {
		cfg.Addr = v
	}
	if v := flagStr(cmd, "worker-image"); v != "" && (cfg.WorkerImage == "" || cmd.Flags().Changed("worker-image")) {
		cfg.WorkerImage = v
	}
	if v := flagStr(cmd, "worker-network"); v != "" {
		cfg.WorkerNetwork = v
	}
	if v := flagStr(cmd, "default-model"); v != "" {
		cfg.DefaultModel = v
	}
	if cmd.Flags().Changed("auto-replace") {
		cfg.AutoReplace, _ = cmd.Flags().GetBool("auto-replace")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func flagStr(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
