package main

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/0xReLogic/Hypnos/internal/config"
	"github.com/0xReLogic/Hypnos/internal/fault"
	"github.com/0xReLogic/Hypnos/internal/logging"
	"github.com/0xReLogic/Hypnos/internal/ratelimit"
	"github.com/0xReLogic/Hypnos/internal/server"
	tlsutils "github.com/0xReLogic/Hypnos/internal/tls"
	"github.com/0xReLogic/Hypnos/internal/toggle"
	"github.com/0xReLogic/Hypnos/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to configuration file (defaults and HYPNOS_* env when empty)")
	listen := pflag.StringP("listen", "l", "", "Listen address, overrides listen_addr")
	pflag.Parse()

	// Faults are created before the watcher so reloads have something to update
	state := toggle.NewState()
	faults := fault.NewInjector(state, fault.Settings{})

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, _, err = config.Watch(*configPath, func(next *config.Config, e fsnotify.Event) {
			faults.Update(faultSettings(next))
			logging.SetLevel(next.Logging.Level)
			logging.LogConfigReloaded(e.Name, map[string]interface{}{
				"sleep_duration": next.Faults.SleepDuration,
				"status_code":    next.Faults.StatusCode,
				"log_level":      next.Logging.Level,
			})
		}, func(err error) {
			logging.LogError("Ignoring invalid config change", map[string]interface{}{
				"error": err.Error(),
			})
		})
	} else {
		cfg, err = config.LoadConfig("")
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	faults.Update(faultSettings(cfg))

	// Set environment for logger
	if cfg.Logging.Environment != "" {
		os.Setenv("HYPNOS_ENV", cfg.Logging.Environment)
	}
	if err := logging.Init(cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	shutdownTracing := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(context.Background(), cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			logging.LogError("Failed to initialize tracing", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			shutdownTracing = shutdown
			logging.LogInfo("Tracing initialized", map[string]interface{}{
				"service":  cfg.Tracing.ServiceName,
				"endpoint": cfg.Tracing.Endpoint,
			})
		}
	}

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rateLimiter = ratelimit.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
		logging.LogInfo("Rate limiting initialized", map[string]interface{}{
			"rps":   cfg.RateLimit.RequestsPerSecond,
			"burst": cfg.RateLimit.BurstSize,
		})
	}

	srv := &server.Server{
		ListenAddr:    cfg.ListenAddr,
		Toggles:       toggle.NewService(state),
		Faults:        faults,
		RateLimiter:   rateLimiter,
		GuardedPrefix: cfg.Guarded.PathPrefix,
	}

	var certManager *tlsutils.CertManager
	if cfg.TLS.Enabled {
		certManager, err = tlsutils.NewCertManager(cfg.TLS.CertDir)
		if err != nil {
			logging.GetLogger().Fatal("failed_to_init_certificates", zap.Error(err), zap.String("cert_dir", cfg.TLS.CertDir))
		}
		srv.TLSConfig = certManager.GetServerTLSConfig(cfg.TLS.RequireClientCert)
		logging.LogInfo("TLS certificate manager initialized", map[string]interface{}{
			"cert_dir":            cfg.TLS.CertDir,
			"require_client_cert": cfg.TLS.RequireClientCert,
		})
	}

	srv.Upstream = newUpstream(cfg, certManager)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logging.GetLogger().Info("hypnos_started",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("guarded_prefix", cfg.Guarded.PathPrefix),
		zap.Duration("sleep_duration", cfg.Faults.SleepDuration),
	)

	select {
	case sig := <-sigCh:
		logging.GetLogger().Info("shutting_down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logging.GetLogger().Fatal("failed_to_start_server", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Append(srv.Shutdown(ctx), shutdownTracing(ctx))
	if err != nil {
		logging.GetLogger().Error("shutdown_incomplete", zap.Error(err))
	}
}

func faultSettings(cfg *config.Config) fault.Settings {
	return fault.Settings{
		SleepDuration: cfg.Faults.SleepDuration,
		StatusCode:    cfg.Faults.StatusCode,
	}
}

// newUpstream returns nil when the guarded route should echo.
func newUpstream(cfg *config.Config, certManager *tlsutils.CertManager) http.Handler {
	var resolve server.Resolver
	switch {
	case cfg.Guarded.TargetServiceName != "":
		resolve = server.RegistryResolver(cfg.Guarded.RegistryFile, cfg.Guarded.TargetServiceName)
	case cfg.Guarded.TargetServiceAddr != "":
		resolve = server.StaticResolver(cfg.Guarded.TargetServiceAddr)
	default:
		return nil
	}

	var clientTLS *tls.Config
	if cfg.Guarded.UpstreamTLS && certManager != nil {
		clientTLS = certManager.GetClientTLSConfig()
	}
	logging.LogInfo("Guarded route proxies upstream", map[string]interface{}{
		"path_prefix":  cfg.Guarded.PathPrefix,
		"service":      cfg.Guarded.TargetServiceName,
		"addr":         cfg.Guarded.TargetServiceAddr,
		"upstream_tls": clientTLS != nil,
	})
	return server.NewUpstream(resolve, cfg.Guarded.MaxRetries, clientTLS)
}
