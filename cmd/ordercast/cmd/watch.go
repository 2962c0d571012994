package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast"
	"github.com/dishly/ordercast/pkg/ordercast/websockets/client"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <websocket-url> <restaurant-id>",
	Short: "Watch live order events for a restaurant",
	Long: `Connect to an ordercast server and print order events for one
restaurant to stdout as they arrive.

The connection is re-established automatically when the server drops it.

Examples:
  ordercast watch ws://localhost:5000/ws res-42
  ordercast watch wss://orders.example.com/ws res-42 --dial-timeout 5s`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

var (
	dialTimeout       time.Duration
	reconnectInterval time.Duration
	reconnectAttempts int
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	watchCmd.Flags().DurationVar(&reconnectInterval, "reconnect-interval", client.DefaultReconnectInterval, "delay between reconnect attempts")
	watchCmd.Flags().IntVar(&reconnectAttempts, "reconnect-attempts", client.DefaultMaxReconnectAttempts, "reconnect attempts before giving up (0 disables)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger("info", "console")
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := args[0]
	restaurantID := args[1]

	wsClient, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(dialTimeout).
		WithReconnectInterval(reconnectInterval).
		WithMaxReconnectAttempts(reconnectAttempts).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	wsClient.On(ordercast.MessageTypeSubscribed, func(msg ordercast.Message) {
		ack := msg.(ordercast.SubscribedMessage)
		logger.Info("Subscribed", zap.String("restaurant", ack.RestaurantID))
	})
	wsClient.On(ordercast.MessageTypeNewOrder, func(msg ordercast.Message) {
		printOrder("new_order", msg.(ordercast.NewOrderMessage).Order, logger)
	})
	wsClient.On(ordercast.MessageTypeOrderUpdated, func(msg ordercast.Message) {
		printOrder("order_updated", msg.(ordercast.OrderUpdatedMessage).Order, logger)
	})

	if err := wsClient.Connect(ctx, restaurantID); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	logger.Info("Watching for order events... (Press Ctrl+C to exit)",
		zap.String("url", wsURL),
		zap.String("restaurant", restaurantID),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	<-sigChan
	logger.Debug("Signal received, exiting")

	if err := wsClient.Disconnect(); err != nil {
		logger.Warn("Error during client disconnect", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func printOrder(event string, order *ordercast.Order, logger *zap.Logger) {
	jsonBytes, err := json.Marshal(order)
	if err != nil {
		logger.Warn("Failed to marshal order", zap.Error(err))
		return
	}
	fmt.Printf("%s\t%s\n", event, string(jsonBytes))
}
