package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dishly/ordercast/pkg/ordercast"
	"github.com/dishly/ordercast/pkg/ordercast/config"
	"github.com/dishly/ordercast/pkg/ordercast/httpapi"
	"github.com/dishly/ordercast/pkg/ordercast/o11y"
	ocotel "github.com/dishly/ordercast/pkg/ordercast/otel"
	"github.com/dishly/ordercast/pkg/ordercast/storage"
	"github.com/dishly/ordercast/pkg/ordercast/websockets/server"
)

const serviceVersion = "1.0.0"

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ordercast server",
	Long: `Start the HTTP API and WebSocket notification server.

Configuration is read from defaults, then an optional YAML file, then
ORDERCAST_* environment variables.

Examples:
  ordercast server
  ordercast server --config /etc/ordercast/config.yaml
  ordercast server --seed-demo-data`,
	RunE: runServer,
}

var (
	configPath   string
	seedDemoData bool
	enableOtel   bool
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	serverCmd.Flags().BoolVar(&seedDemoData, "seed-demo-data", false, "seed a demo restaurant and users")
	serverCmd.Flags().BoolVar(&enableOtel, "otel", false, "emit metrics and traces via OpenTelemetry")
}

func runServer(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting ordercast server",
		zap.String("addr", cfg.ListenAddr()),
		zap.String("ws-path", cfg.Websocket.Path),
	)

	store := storage.NewMemoryStore()
	if seedDemoData {
		if err := seedDemo(store); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
		logger.Info("Seeded demo restaurant and users")
	}

	registry := ordercast.NewRegistry(logger)

	var broadcaster *ordercast.Broadcaster
	if enableOtel {
		provider := ocotel.NewProvider("ordercast", serviceVersion)
		broadcaster = ordercast.NewBroadcasterWithObservability(registry, logger, &o11y.Config{
			MetricsProvider: provider,
			TracingProvider: provider,
			ServiceName:     "ordercast",
			ServiceVersion:  serviceVersion,
		})
	} else {
		broadcaster = ordercast.NewBroadcaster(registry, logger)
	}

	listener, err := server.NewListenerConfig().
		WithRegistry(registry).
		WithLogger(logger).
		WithQueueSize(cfg.Websocket.QueueSize).
		WithPingInterval(cfg.Websocket.PingInterval).
		WithReadTimeout(cfg.Websocket.ReadTimeout).
		WithWriteTimeout(cfg.Websocket.WriteTimeout).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build websocket listener: %w", err)
	}

	api := httpapi.NewServer(store, broadcaster, registry, logger, cfg.Security.JWTSecret).
		WithTokenTTL(cfg.Security.TokenTTL)
	router := api.Routes(cfg.Websocket.Path, http.HandlerFunc(listener.ServeWebsocket))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := listener.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Websocket shutdown incomplete", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// seedDemo creates a demo restaurant with an owner account and a super
// admin, so a fresh in-memory server is immediately usable.
func seedDemo(store storage.Store) error {
	restaurant, err := store.CreateRestaurant(&storage.Restaurant{
		Name: "Golden Dragon",
	})
	if err != nil {
		return err
	}

	users := []struct {
		username, password, role, restaurantID string
	}{
		{"admin", "admin123", storage.RoleSuperAdmin, ""},
		{"owner", "owner123", storage.RoleRestaurantOwner, restaurant.ID},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := store.CreateUser(&storage.User{
			Username:     u.username,
			Password:     string(hash),
			Role:         u.role,
			RestaurantID: u.restaurantID,
		}); err != nil {
			return err
		}
	}
	return nil
}
