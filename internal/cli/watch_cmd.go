package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tgfiles/internal/channel"
	"tgfiles/internal/speed"
	syncer "tgfiles/internal/sync"
)

var (
	watchInterval time.Duration
	watchPages    int
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "refresh interval")
	watchCmd.Flags().IntVar(&watchPages, "pages", 1, "pages to keep loaded (0 = all)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the file list of the current chat with live progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSession(); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := openChannel(cmd)
		if err != nil {
			return err
		}

		engine := syncer.NewEngine(&syncer.EngineOptions{
			Account: cfg.Session.Account,
			Chat:    cfg.Session.Chat,
			Fetcher: a.client,
			Invoker: a.client,
			Filters: a.filters,
			Stream:  ch,
			Speed: speed.Options{
				DecayInterval:   cfg.Speed.DecayIntervalDuration,
				DebounceWait:    cfg.Speed.DebounceWaitDuration,
				DebounceMaxWait: cfg.Speed.DebounceMaxWaitDuration,
			},
			AccountSpeed: speed.Options{DecayInterval: cfg.Speed.DecayIntervalDuration},
		})

		g, ctx := errgroup.WithContext(cmd.Context())

		// 1. 长连接
		g.Go(func() error {
			err := ch.Run(ctx)
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, channel.ErrReconnectExhausted):
				// 实时推送不可用，列表仍可通过 REST 刷新
				slog.Error("实时推送已断开", "err", err)
				return nil
			}
			return err
		})

		// 2. 同步引擎
		g.Go(func() error {
			err := engine.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		// 3. 定时输出
		g.Go(func() error {
			defer ch.Close()
			ticker := time.NewTicker(watchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}

				v, err := engine.View(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				printView(cmd.OutOrStdout(), v)

				if v.HasMore && !v.Loading && v.Err == nil && (watchPages <= 0 || v.Pages < watchPages) {
					if err := engine.LoadMore(ctx); err != nil && ctx.Err() == nil {
						return err
					}
				}
			}
		})

		if err := g.Wait(); err != nil {
			slog.Error("watch 退出", "err", err)
			return err
		}
		return nil
	},
}

func openChannel(cmd *cobra.Command) (*channel.Channel, error) {
	stderr := cmd.ErrOrStderr()
	return channel.New(&channel.Options{
		URL:               cfg.Server.WSURL,
		Account:           cfg.Session.Account,
		ReconnectAttempts: cfg.Stream.ReconnectAttempts,
		ReconnectInterval: cfg.Stream.ReconnectIntervalDuration,
		Reporter: channel.ErrorReporterFunc(func(env channel.Envelope, msg channel.ErrorMessage) {
			fmt.Fprintf(stderr, "remote error (code=%s): %s\n", env.Code, msg.Message)
		}),
	})
}
