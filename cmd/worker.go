package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sigval/internal/queue"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume validation requests from the redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Addr,
			Password: cfg.Queue.Password,
			DB:       cfg.Queue.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return eris.Wrap(err, "redis connect")
		}

		q := queue.New(rdb, cfg.Queue.Name, time.Duration(cfg.Queue.BlockTimeoutSecs)*time.Second)
		v := newValidator()

		zap.L().Info("worker starting",
			zap.String("queue", cfg.Queue.Name),
			zap.String("redis", cfg.Queue.Addr),
			zap.Int("concurrency", workerConcurrency))

		// Each consumer runs requests sequentially; concurrency comes
		// from running several consumers against the shared list.
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < workerConcurrency; i++ {
			consumer := queue.NewConsumer(q, v.Run)
			g.Go(func() error {
				return consumer.Run(gctx)
			})
		}

		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return eris.Wrap(err, "consumer run")
		}

		zap.L().Info("worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 1, "number of queue consumers")
	rootCmd.AddCommand(workerCmd)
}
