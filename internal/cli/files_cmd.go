package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"tgfiles/internal/api"
	"tgfiles/internal/filter"
	syncer "tgfiles/internal/sync"
)

var (
	filesPages  int
	filesSearch string
	filesType   string
	filesStatus string
)

func init() {
	filesCmd.Flags().IntVar(&filesPages, "pages", 1, "number of pages to load (0 = all)")
	filesCmd.Flags().StringVar(&filesSearch, "search", "", "override the saved search text")
	filesCmd.Flags().StringVar(&filesType, "type", "", "override the saved file type")
	filesCmd.Flags().StringVar(&filesStatus, "status", "", "override the saved download status")
	rootCmd.AddCommand(filesCmd)
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List files of the current chat using the saved filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSession(); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f := a.filters.Get()
		if cmd.Flags().Changed("search") {
			f.Search = filesSearch
		}
		if cmd.Flags().Changed("type") {
			f.Type = filesType
		}
		if cmd.Flags().Changed("status") {
			f.Status = filesStatus
		}
		f = f.Normalize()
		if err := f.Validate(); err != nil {
			return err
		}

		files, more, err := loadFiles(cmd.Context(), a.client, f, filesPages, nil)
		if err != nil {
			return err
		}
		printFiles(cmd.OutOrStdout(), files)
		if more {
			fmt.Fprintln(cmd.OutOrStdout(), "... more files available (use --pages)")
		}
		return nil
	},
}

// loadFiles 逐页拉取，直到没有更多页、达到 maxPages 或 stop 返回 true
func loadFiles(ctx context.Context, client *api.Client, f filter.Filter, maxPages int, stop func([]api.File) bool) ([]api.File, bool, error) {
	pager := syncer.NewPager(f)
	var seq uint64
	for n := 0; maxPages <= 0 || n < maxPages; n++ {
		req := pager.Next()
		if req == nil {
			break
		}
		page, err := client.ListFiles(ctx, cfg.Session.Account, cfg.Session.Chat, req.Filter, req.Cursor)
		seq++
		pager.Apply(*req, page, err, seq)
		if err != nil {
			return nil, false, fmt.Errorf("获取文件列表失败: %w", err)
		}
		slog.Debug("已加载一页", "files", len(page.Files), "total", pager.Count())

		if stop != nil && stop(syncer.Project(pager.Pages(), nil)) {
			break
		}
	}
	return syncer.Project(pager.Pages(), nil), pager.HasMore(), nil
}

// findFile 按稳定标识在当前过滤条件下查找文件
func findFile(ctx context.Context, a *app, key string) (api.File, error) {
	var found *api.File
	_, _, err := loadFiles(ctx, a.client, a.filters.Get(), 0, func(files []api.File) bool {
		for i := range files {
			if files[i].Key() == key {
				found = &files[i]
				return true
			}
		}
		return false
	})
	if err != nil {
		return api.File{}, err
	}
	if found == nil {
		return api.File{}, fmt.Errorf("file %q not found in chat %s with filter %s", key, cfg.Session.Chat, a.filters.Get().String())
	}
	return *found, nil
}
