package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tgfiles/internal/filter"
)

var (
	setSearch string
	setType   string
	setStatus string
)

func init() {
	filterSetCmd.Flags().StringVar(&setSearch, "search", "", "search text")
	filterSetCmd.Flags().StringVar(&setType, "type", "", "file type: media, photo, video, audio, file")
	filterSetCmd.Flags().StringVar(&setStatus, "status", "", "download status: all, idle, downloading, paused, completed, error")

	filterCmd.AddCommand(filterShowCmd, filterSetCmd, filterClearCmd)
	rootCmd.AddCommand(filterCmd)
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Show or change the saved file list filter",
}

var filterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), a.filters.Get().String())
		return nil
	},
}

var filterSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update fields of the saved filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f := a.filters.Get()
		if cmd.Flags().Changed("search") {
			f.Search = setSearch
		}
		if cmd.Flags().Changed("type") {
			f.Type = setType
		}
		if cmd.Flags().Changed("status") {
			f.Status = setStatus
		}

		changed, err := a.filters.Set(f)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintln(cmd.OutOrStdout(), "unchanged:", a.filters.Get().String())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "saved:", a.filters.Get().String())
		return nil
	},
}

var filterClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the saved filter to " + filter.Default().String(),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.filters.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared:", a.filters.Get().String())
		return nil
	},
}
