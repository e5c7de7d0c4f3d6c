package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/logging"
	"github.com/Tyrowin/voicerelay/internal/metrics"
	"github.com/Tyrowin/voicerelay/internal/server"
)

var (
	runFlagValues = config.Default()

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the relay server",
		RunE:  execute,
	}
)

func init() {
	bindRunFlags(runCmd.Flags(), runFlagValues)
}

func bindRunFlags(flags *pflag.FlagSet, flagCfg *config.Config) {
	flags.StringVarP(&flagCfg.ListenAddress, "listen-address", "l", config.DefaultListenAddress, "listen address for WebSocket and HTTP")
	flags.StringVar(&flagCfg.StaticDir, "static-dir", config.DefaultStaticDir, "directory served for plain HTTP requests")
	flags.StringSliceVar(&flagCfg.AllowedOrigins, "allowed-origins", nil, "browser origins allowed to connect, * for any")
	flags.Int64Var(&flagCfg.MaxMessageSize, "max-message-size", config.DefaultMaxMessageSize, "largest accepted inbound frame in bytes")
	flags.IntVar(&flagCfg.SendBuffer, "send-buffer", config.DefaultSendBuffer, "outbound frames queued per client before dropping")
	flags.IntVar(&flagCfg.RateLimit.Burst, "rate-burst", config.DefaultRateBurst, "inbound frames a client may send at once")
	flags.DurationVar(&flagCfg.RateLimit.RefillInterval, "rate-refill-interval", config.DefaultRefillInterval, "time to refill a full rate burst")
	flags.BoolVar(&flagCfg.Metrics.Enabled, "metrics", false, "expose prometheus metrics")
	flags.IntVar(&flagCfg.Metrics.Port, "metrics-port", config.DefaultMetricsPort, "metrics endpoint http port")
	flags.StringVar(&flagCfg.Metrics.Path, "metrics-path", config.DefaultMetricsPath, "metrics endpoint path")
	flags.DurationVar(&flagCfg.ShutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout, "time allowed for graceful shutdown")
}

// loadConfig builds the effective config: defaults, then the config file if
// one was given, then any flag set on the command line or via environment.
func loadConfig(flags *pflag.FlagSet, configPath string, flagCfg *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := map[string]func(){
		"listen-address":       func() { cfg.ListenAddress = flagCfg.ListenAddress },
		"static-dir":           func() { cfg.StaticDir = flagCfg.StaticDir },
		"allowed-origins":      func() { cfg.AllowedOrigins = flagCfg.AllowedOrigins },
		"max-message-size":     func() { cfg.MaxMessageSize = flagCfg.MaxMessageSize },
		"send-buffer":          func() { cfg.SendBuffer = flagCfg.SendBuffer },
		"rate-burst":           func() { cfg.RateLimit.Burst = flagCfg.RateLimit.Burst },
		"rate-refill-interval": func() { cfg.RateLimit.RefillInterval = flagCfg.RateLimit.RefillInterval },
		"metrics":              func() { cfg.Metrics.Enabled = flagCfg.Metrics.Enabled },
		"metrics-port":         func() { cfg.Metrics.Port = flagCfg.Metrics.Port },
		"metrics-path":         func() { cfg.Metrics.Path = flagCfg.Metrics.Path },
		"shutdown-timeout":     func() { cfg.ShutdownTimeout = flagCfg.ShutdownTimeout },
		"log-level":            func() { cfg.Log.Level = logLevel },
		"log-file":             func() { cfg.Log.File = logFile },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func execute(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), configPath, runFlagValues)
	if err != nil {
		log.Debugf("%v", err)
		return err
	}

	if err := logging.InitLog(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}

	// Resource creation phase (fail fast before starting any goroutines)
	var (
		metricsServer *metrics.Metrics
		appMetrics    *metrics.AppMetrics
	)
	if cfg.Metrics.Enabled {
		metricsServer, err = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path)
		if err != nil {
			return fmt.Errorf("setup metrics: %w", err)
		}
		appMetrics, err = metrics.NewAppMetrics(metricsServer.Meter)
		if err != nil {
			return fmt.Errorf("setup app metrics: %w", err)
		}
	}

	srv := server.New(cfg, appMetrics)
	srv.StartHub()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.ListenAndServe)
	if metricsServer != nil {
		g.Go(func() error {
			log.Infof("running metrics server: %s%s", metricsServer.Addr, metricsServer.Endpoint)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		defer cancel()
		return shutdownServers(shutdownCtx, srv, metricsServer)
	})

	return g.Wait()
}

func shutdownServers(ctx context.Context, srv *server.Server, metricsServer *metrics.Metrics) error {
	var errs error

	if err := srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close relay server: %w", err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
		}
	}

	if errs == nil {
		log.Infof("server shutdown complete")
	}
	return errs
}
