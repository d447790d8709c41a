package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
	"roomview/internal/core/services"
	httphandlers "roomview/internal/handlers/http"
	"roomview/internal/infrastructure/middleware"
	"roomview/internal/infrastructure/monitoring"
	signalinfra "roomview/internal/infrastructure/signal"
	webrtcinfra "roomview/internal/infrastructure/webrtc"
	"roomview/pkg/config"
	"roomview/pkg/logger"
	"roomview/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/roomview/config.yaml",
	"config.yaml",
}

func main() {
	fs := pflag.NewFlagSet("viewer", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to the YAML config file")
	roomID := fs.String("room", "", "room to join, overrides session.room_id")
	serverURL := fs.String("server-url", "", "signaling server URL, overrides session.server_url")
	autoStart := fs.Bool("auto-start", false, "start the session on boot")
	issueToken := fs.String("issue-token", "", "print a control API token for this subject and exit")
	tokenScope := fs.String("token-scope", string(services.ScopeControl), "scope of the token printed by --issue-token")
	_ = fs.Parse(os.Args[1:])

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if fs.Changed("room") {
		cfg.Session.RoomID = *roomID
	}
	if fs.Changed("server-url") {
		cfg.Session.ServerURL = *serverURL
	}
	if fs.Changed("auto-start") {
		cfg.Session.AutoStart = *autoStart
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		os.Exit(printToken(cfg, *issueToken, services.Scope(*tokenScope)))
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if source != "" {
		log.Infow("loaded config", "path", source)
	} else {
		log.Info("no config file found, using defaults")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Metrics
	var metrics *monitoring.PrometheusCollector
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = monitoring.NewPrometheusCollector(registry)
		gatherer = registry
	}

	// Signaling and media
	dialer := signalinfra.NewDialer(signalinfra.PeerConfig{
		PingInterval:     cfg.Signal.PingInterval,
		WriteTimeout:     cfg.Signal.WriteTimeout,
		HandshakeTimeout: cfg.Signal.HandshakeTimeout,
		MaxMessageSize:   cfg.Signal.MaxMessageSizeBytes,
	}, log.Named("signal"))
	devices := webrtcinfra.NewDeviceFactory(webrtcConfig(cfg), log.Named("webrtc"))

	sessionCfg := services.SessionConfig{
		ServerURL:      cfg.Session.ServerURL,
		RoomID:         cfg.Session.RoomID,
		Camera:         domain.Camera(cfg.Session.Camera),
		ConnectTimeout: cfg.Session.ConnectTimeout,
		DeviceName:     cfg.Session.DeviceName,
		DeviceVersion:  cfg.Session.DeviceVersion,
	}
	var sessionMetrics ports.SessionMetrics
	if metrics != nil {
		sessionMetrics = metrics
	}
	controller := services.NewSessionController(sessionCfg, dialer, devices, sessionMetrics, log.Named("session"))

	checker := monitoring.NewHealthChecker()
	checker.AddSessionCheck(controller, cfg.Session.AutoStart, 2*time.Second)

	var authService services.AuthService
	if cfg.Auth.JWTSecret != "" {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		log.Info("control API bearer auth enabled")
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctxLog := logger.NewContextLogger(zapLogger)
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(ctxLog),
		middleware.TracingMiddleware(ctxLog),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(ctxLog),
	)
	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)
	httphandlers.NewSessionHandler(controller, authService).SetupRoutes(router)

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metrics != nil {
		go metrics.RunStreamSampler(ctx, controller, 5*time.Second)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting control API", "address", cfg.HTTP.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Session.AutoStart {
		go func() {
			if err := controller.Start(ctx); err != nil {
				log.Errorw("auto start failed", "room_id", cfg.Session.RoomID, "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	cancel()
	controller.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracer provider", "error", err)
	}

	log.Info("viewer stopped")
}

// loadConfig loads path, or the first existing file from configPaths when
// path is empty. It reports which file was used.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	for _, candidate := range configPaths {
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := config.Load(candidate)
			return cfg, candidate, err
		}
	}
	cfg, err := config.Load("")
	return cfg, "", err
}

func webrtcConfig(cfg *config.Config) webrtcinfra.Config {
	var out webrtcinfra.Config
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

func printToken(cfg *config.Config, subject string, scope services.Scope) int {
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not set")
		return 1
	}
	token, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL).GenerateToken(subject, scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
