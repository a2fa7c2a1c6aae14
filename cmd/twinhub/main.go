package main

//	@title			Twin Sensor Hub API
//	@version		0.1.0
//	@description	Sensor ingestion and anomaly detection API for phone digital twins.
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Sensor pairing token as "Bearer <token>".

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/HerbHall/twinhub/api/swagger"
	"github.com/HerbHall/twinhub/internal/config"
	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/internal/event"
	"github.com/HerbHall/twinhub/internal/mqtt"
	"github.com/HerbHall/twinhub/internal/pairing"
	"github.com/HerbHall/twinhub/internal/registry"
	"github.com/HerbHall/twinhub/internal/server"
	"github.com/HerbHall/twinhub/internal/store"
	"github.com/HerbHall/twinhub/internal/version"
	"github.com/HerbHall/twinhub/internal/webhook"
	"github.com/HerbHall/twinhub/internal/ws"
	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "seed":
			runSeed(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("twinhub starting", zap.String("version", version.Short()))
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := viperCfg.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("component", "database"), zap.String("path", dbPath))

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	tokens := pairingTokens(viperCfg, logger)

	// Register all plugins (compile-time composition).
	detectModule := detect.New()
	detectModule.SetIngestAuthorizer(func(r *http.Request) (string, error) {
		return tokens.DeviceFromRequest(r, pairing.RoleSensor)
	})
	modules := []plugin.Plugin{
		detectModule,
		mqtt.New(),
		webhook.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}
	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}
	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	pairingHandler := pairing.NewHandler(tokens, logger.Named("pairing"))

	wsCfg := ws.DefaultConfig()
	if r := viperCfg.GetFloat64("ws.sensor_rate"); r > 0 {
		wsCfg.SensorRate = r
	}
	if b := viperCfg.GetInt("ws.sensor_burst"); b > 0 {
		wsCfg.SensorBurst = b
	}
	wsHandler := ws.NewHandler(tokens, bus, wsCfg, logger.Named("ws"))
	logger.Info("websocket handler initialized",
		zap.String("component", "ws"),
		zap.Float64("sensor_rate", wsCfg.SensorRate),
		zap.Int("sensor_burst", wsCfg.SensorBurst),
	)

	// Detection thresholds follow the config file without a restart.
	config.Watch(viperCfg, logger.Named("config"), func(c *config.ViperConfig) {
		publishDetectConfig(ctx, bus, c, logger)
	})

	srvCfg := server.ServerConfig(viperCfg)
	srv := server.New(srvCfg, reg, logger, db.Ping, wsHandler, pairingHandler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("twinhub ready", zap.String("addr", srvCfg.Addr()))
	fmt.Fprintf(os.Stderr, "\n  twinhub %s is ready on http://%s\n\n", version.Short(), srvCfg.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wsHandler.Close()
	reg.StopAll(shutdownCtx)
	if err := bus.Drain(shutdownCtx); err != nil {
		logger.Warn("event bus did not drain", zap.Error(err))
	}

	logger.Info("twinhub stopped")
}

// pairingTokens builds the token service. Without a configured secret the
// tokens only survive until the next restart.
func pairingTokens(v *viper.Viper, logger *zap.Logger) *pairing.TokenService {
	secret := []byte(v.GetString("pairing.secret"))
	if len(secret) == 0 {
		var err error
		if secret, err = pairing.RandomSecret(); err != nil {
			logger.Fatal("failed to generate pairing secret", zap.Error(err))
		}
		logger.Warn("using auto-generated pairing secret; set pairing.secret to keep pairings across restarts",
			zap.String("component", "pairing"),
		)
	}
	ttl := v.GetDuration("pairing.token_ttl")
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	tokens := pairing.NewTokenService(secret, ttl)
	logger.Info("pairing service initialized",
		zap.String("component", "pairing"),
		zap.Duration("token_ttl", tokens.TTL()),
	)
	return tokens
}

// publishDetectConfig re-reads plugins.detect and hands the thresholds to
// the detect module over the bus.
func publishDetectConfig(ctx context.Context, bus plugin.EventBus, c *config.ViperConfig, logger *zap.Logger) {
	detectCfg := detect.DefaultConfig()
	if err := c.Sub("plugins.detect").Unmarshal(&detectCfg); err != nil {
		logger.Warn("ignoring detect config change", zap.Error(err))
		return
	}
	if err := detectCfg.Validate(); err != nil {
		logger.Warn("ignoring invalid detect config change", zap.Error(err))
		return
	}
	if err := bus.Publish(ctx, plugin.Event{
		Topic:   detect.TopicConfigChanged,
		Source:  "config",
		Payload: detectCfg.AnomalyDetectionConfig,
	}); err != nil {
		logger.Warn("failed to publish detect config change", zap.Error(err))
	}
}
