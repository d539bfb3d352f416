package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"tgfiles/internal/api"
)

// ErrNotAllowed 文件当前状态不允许该操作
var ErrNotAllowed = errors.New("operation not allowed in current state")

// Actions 后端的文件控制接口
type Actions interface {
	StartDownload(ctx context.Context, req api.StartDownloadRequest) error
	StartDownloadMultiple(ctx context.Context, files []api.StartDownloadRequest) error
	CancelDownload(ctx context.Context, fileID int64) error
	TogglePauseDownload(ctx context.Context, fileID int64, isPaused bool) error
	RemoveFile(ctx context.Context, fileID int64) error
}

// Controller 在合并后的文件状态上执行控制操作
type Controller struct {
	actions    Actions
	maxWorkers int
}

// NewController 创建控制器，maxWorkers 限制批量操作的并发数
func NewController(actions Actions, maxWorkers int) *Controller {
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	return &Controller{actions: actions, maxWorkers: maxWorkers}
}

func (c *Controller) check(op OpType, f *api.File) error {
	if !allowed(op, f) {
		return fmt.Errorf("%w: %s %s (status=%s)", ErrNotAllowed, op, f.FileName, f.DownloadStatus)
	}
	return nil
}

func startRequest(f *api.File) api.StartDownloadRequest {
	return api.StartDownloadRequest{ChatID: f.ChatID, MessageID: f.MessageID, FileID: f.ID}
}

// Start 开始下载
func (c *Controller) Start(ctx context.Context, f api.File) error {
	if err := c.check(OpStart, &f); err != nil {
		return err
	}
	slog.Info("开始下载", "file", f.FileName, "key", f.Key())
	return c.actions.StartDownload(ctx, startRequest(&f))
}

// Cancel 取消下载
func (c *Controller) Cancel(ctx context.Context, f api.File) error {
	if err := c.check(OpCancel, &f); err != nil {
		return err
	}
	slog.Info("取消下载", "file", f.FileName, "key", f.Key())
	return c.actions.CancelDownload(ctx, f.ID)
}

// TogglePause 正在下载则暂停，已暂停则恢复
func (c *Controller) TogglePause(ctx context.Context, f api.File) error {
	if err := c.check(OpTogglePause, &f); err != nil {
		return err
	}
	isPaused := pauseTarget(&f)
	slog.Info("切换暂停", "file", f.FileName, "isPaused", isPaused)
	return c.actions.TogglePauseDownload(ctx, f.ID, isPaused)
}

// Remove 删除已下载完成的文件
func (c *Controller) Remove(ctx context.Context, f api.File) error {
	if err := c.check(OpRemove, &f); err != nil {
		return err
	}
	slog.Info("删除文件", "file", f.FileName, "path", f.LocalPath)
	return c.actions.RemoveFile(ctx, f.ID)
}

// StartAll 通过批量接口开始所有可开始的文件，返回提交的数量
func (c *Controller) StartAll(ctx context.Context, files []api.File) (int, error) {
	reqs := make([]api.StartDownloadRequest, 0, len(files))
	for i := range files {
		if allowed(OpStart, &files[i]) {
			reqs = append(reqs, startRequest(&files[i]))
		}
	}
	if len(reqs) == 0 {
		return 0, nil
	}

	slog.Info("批量开始下载", "数量", len(reqs))
	if err := c.actions.StartDownloadMultiple(ctx, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// CancelAll 并发取消所有进行中的下载
func (c *Controller) CancelAll(ctx context.Context, files []api.File) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)

	n := 0
	for i := range files {
		f := files[i]
		if !cancellable(&f) {
			continue
		}
		n++
		g.Go(func() error {
			if err := c.actions.CancelDownload(ctx, f.ID); err != nil {
				slog.Error("取消下载失败", "file", f.FileName, "err", err)
				return fmt.Errorf("cancel %s: %w", f.FileName, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return n, err
	}
	return n, nil
}
