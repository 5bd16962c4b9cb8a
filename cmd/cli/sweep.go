package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"neuroconnect/internal/config"
	"neuroconnect/internal/database"
	"neuroconnect/internal/services"
)

// sweepCmd 立即执行一轮过期扫描（与定时任务、管理接口共用同一逻辑）
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire active sessions whose end time has passed",
	Long: `Expire active sessions whose end time has passed.

Runs outside the server process: connected WebSocket clients are not notified.
Use POST /api/sessions/auto-expire on a running server to expire and notify rooms.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger, err := config.InitLogger(cfg)
		if err != nil {
			return err
		}

		db, err := database.Open(cfg.Database, false, logger)
		if err != nil {
			return err
		}

		// 没有在线连接，事件只转发给 AMQP（若启用）
		bus := services.NewEventBus(cfg.Events.Buffer, logger)
		if cfg.Events.AMQP.Enabled {
			publisher, err := services.NewAMQPEventPublisher(cfg.Events.AMQP.URL, cfg.Events.AMQP.Exchange, logger)
			if err != nil {
				logger.Warnf("amqp unavailable, lifecycle events not published: %v", err)
			} else {
				defer publisher.Close()
				bus.Subscribe(publisher)
			}
		}

		svc := services.NewSessionService(
			services.NewGormSessionStore(db), services.NewGormPartyDirectory(db), bus,
			services.SystemClock(), cfg.Session, logger,
		)
		timeout := cfg.Session.SweepTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		go bus.Run(ctx)

		res, sweepErr := svc.ExpireSweep(ctx)
		bus.Close()
		bus.Drain(context.Background())
		if sweepErr != nil {
			return fmt.Errorf("sweep: %w", sweepErr)
		}

		out, _ := json.Marshal(res)
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
