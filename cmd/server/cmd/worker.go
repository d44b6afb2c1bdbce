package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/config"
	"github.com/iliyamo/techland/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume checkout events into the rotated checkout log",
	RunE: func(cmd *cobra.Command, args []string) error {
		amqpCfg := config.LoadAMQPConfig()
		if !amqpCfg.Enabled {
			return errors.New("AMQP_ENABLED is false; nothing to consume")
		}
		c, err := queue.NewConsumer(amqpCfg, log)
		if err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("checkout worker started", zap.String("queue", amqpCfg.Queue), zap.String("log_dir", amqpCfg.LogDir))
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("checkout worker stopped")
		return nil
	},
}
