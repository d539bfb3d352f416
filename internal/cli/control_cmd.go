package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tgfiles/internal/api"
	syncer "tgfiles/internal/sync"
)

const maxConcurrentCancels = 4

var (
	downloadAll bool
	cancelAll   bool
)

func init() {
	downloadCmd.Flags().BoolVar(&downloadAll, "all", false, "start every idle or failed file matching the saved filter")
	cancelCmd.Flags().BoolVar(&cancelAll, "all", false, "cancel every downloading or paused file matching the saved filter")
	rootCmd.AddCommand(downloadCmd, cancelCmd, pauseCmd, removeCmd)
}

// controlFunc 对单个文件执行的控制操作
type controlFunc func(c *syncer.Controller, ctx context.Context, f api.File) error

func singleFile(verb string, fn controlFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%s requires exactly one file unique id", verb)
		}
		if err := requireSession(); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := findFile(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		c := syncer.NewController(a.client, maxConcurrentCancels)
		if err := fn(c, cmd.Context(), f); err != nil {
			if errors.Is(err, syncer.ErrNotAllowed) {
				return fmt.Errorf("cannot %s: %w", verb, err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s requested: %s\n", verb, f.FileName)
		return nil
	}
}

// allFiles 对当前过滤条件下的全部文件执行批量操作
func allFiles(verb string, fn func(c *syncer.Controller, ctx context.Context, files []api.File) (int, error)) func(cmd *cobra.Command) error {
	return func(cmd *cobra.Command) error {
		if err := requireSession(); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		files, _, err := loadFiles(cmd.Context(), a.client, a.filters.Get(), 0, nil)
		if err != nil {
			return err
		}
		n, err := fn(syncer.NewController(a.client, maxConcurrentCancels), cmd.Context(), files)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s requested for %d of %d files\n", verb, n, len(files))
		return nil
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download [unique-id]",
	Short: "Start downloading a file (only from idle or error)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if downloadAll {
			return allFiles("download", (*syncer.Controller).StartAll)(cmd)
		}
		return singleFile("download", (*syncer.Controller).Start)(cmd, args)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [unique-id]",
	Short: "Cancel a download",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cancelAll {
			return allFiles("cancel", (*syncer.Controller).CancelAll)(cmd)
		}
		return singleFile("cancel", (*syncer.Controller).Cancel)(cmd, args)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <unique-id>",
	Short: "Pause a running download or resume a paused one",
	Args:  cobra.ExactArgs(1),
	RunE:  singleFile("pause", (*syncer.Controller).TogglePause),
}

var removeCmd = &cobra.Command{
	Use:   "remove <unique-id>",
	Short: "Remove a completed download from local storage",
	Args:  cobra.ExactArgs(1),
	RunE:  singleFile("remove", (*syncer.Controller).Remove),
}
