package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tgfiles/internal/channel"
	"tgfiles/internal/method"
)

var methodTimeout time.Duration

func init() {
	methodCmd.Flags().DurationVar(&methodTimeout, "timeout", 30*time.Second, "how long to wait for the result")
	rootCmd.AddCommand(methodCmd)
}

var methodCmd = &cobra.Command{
	Use:   "method <name> [json-payload]",
	Short: "Invoke a telegram API method and wait for its result on the stream",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Session.Account == "" {
			return errors.New("account is required (--account or session.account in config)")
		}

		var payload any = map[string]any{}
		if len(args) == 2 {
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
				return fmt.Errorf("invalid json payload: %w", err)
			}
			payload = raw
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
		corr := method.New(a.client)
		envs, unsubscribe := ch.Subscribe()
		defer unsubscribe()

		ctx, cancel := context.WithTimeout(cmd.Context(), methodTimeout)
		defer cancel()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := ch.Run(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case env := <-envs:
					corr.Observe(env)
				}
			}
		})

		var result method.Result
		g.Go(func() error {
			defer cancel()
			defer ch.Close()

			// 等连接建立后再发起调用，避免错过结果
			statuses, stop := ch.WatchStatus()
			defer stop()
			for open := false; !open; {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s := <-statuses:
					open = s == channel.Open
				}
			}

			code, err := corr.Issue(ctx, args[0], payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "issued %s (code=%s), waiting...\n", args[0], code)

			result, err = corr.Wait(ctx, code)
			return err
		})

		if err := g.Wait(); err != nil {
			return err
		}
		if result.Failed() {
			return fmt.Errorf("%s failed: %s", args[0], result.Err.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(result.Data))
		return nil
	},
}
