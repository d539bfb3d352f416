package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tgfiles/internal/api"
	"tgfiles/internal/channel"
	"tgfiles/internal/filter"
	"tgfiles/internal/method"
	"tgfiles/internal/speed"
)

// ErrStopped 引擎的事件循环已经退出
var ErrStopped = errors.New("engine stopped")

// Fetcher 分页拉取文件记录
type Fetcher interface {
	ListFiles(ctx context.Context, account, chat string, f filter.Filter, cursor int64) (*api.FilePage, error)
}

// FilterStore 持久化的过滤条件
type FilterStore interface {
	Get() filter.Filter
	Set(f filter.Filter) (bool, error)
}

// Stream 实时推送来源
type Stream interface {
	Subscribe() (<-chan channel.Envelope, func())
	WatchStatus() (<-chan channel.Status, func())
}

// EngineOptions 初始化选项
type EngineOptions struct {
	Account string
	Chat    string

	Fetcher Fetcher
	Invoker method.Invoker
	Filters FilterStore
	Stream  Stream

	Speed        speed.Options // 单个文件
	AccountSpeed speed.Options // 账号汇总

	LoadingWait    time.Duration
	LoadingMaxWait time.Duration
	// TickInterval 驱动速率衰减和防抖的定时器周期
	TickInterval time.Duration
}

type pageResult struct {
	req  PageRequest
	page *api.FilePage
	err  error
}

// Engine 把快照分页、实时推送、速率和调用关联组合在一起
//
// 所有状态只在 Run 所在的 goroutine 中修改，对外方法通过 cmds 投递闭包，
// 因此各组件本身不需要加锁。
type Engine struct {
	opts *EngineOptions
	now  func() time.Time

	pager   *Pager
	overlay *Overlay
	est     *speed.Estimator
	acc     *speed.AccountRate
	corr    *method.Correlator
	loading *speed.Debouncer[bool]
	status  channel.Status

	runCtx  context.Context
	cmds    chan func()
	results chan pageResult
	done    chan struct{}
}

// NewEngine 创建引擎，Run 之前不会发出任何请求
func NewEngine(opts *EngineOptions) *Engine {
	if opts.LoadingWait <= 0 {
		opts.LoadingWait = 500 * time.Millisecond
	}
	if opts.LoadingMaxWait <= 0 {
		opts.LoadingMaxWait = time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.AccountSpeed.DebounceWait <= 0 {
		opts.AccountSpeed.DebounceWait = 300 * time.Millisecond
	}
	if opts.AccountSpeed.DebounceMaxWait <= 0 {
		opts.AccountSpeed.DebounceMaxWait = time.Second
	}

	now := opts.Speed.Now
	if now == nil {
		now = time.Now
	}

	f := filter.Default()
	if opts.Filters != nil {
		f = opts.Filters.Get()
	}

	return &Engine{
		opts:    opts,
		now:     now,
		pager:   NewPager(f),
		overlay: NewOverlay(),
		est:     speed.NewEstimator(opts.Speed),
		acc:     speed.NewAccountRate(opts.AccountSpeed),
		corr:    method.New(opts.Invoker),
		loading: speed.NewDebouncer(opts.LoadingWait, opts.LoadingMaxWait, false),
		status:  channel.Closed,
		cmds:    make(chan func()),
		results: make(chan pageResult),
		done:    make(chan struct{}),
	}
}

// Run 事件循环，ctx 结束时返回
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.runCtx = ctx

	var (
		envs     <-chan channel.Envelope
		statuses <-chan channel.Status
	)
	if e.opts.Stream != nil {
		var unsub, unwatch func()
		envs, unsub = e.opts.Stream.Subscribe()
		defer unsub()
		statuses, unwatch = e.opts.Stream.WatchStatus()
		defer unwatch()
	}

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	slog.Info("同步引擎启动", "account", e.opts.Account, "chat", e.opts.Chat, "filter", e.pager.Filter().String())
	e.fetchNext()

	for {
		select {
		case <-ctx.Done():
			slog.Info("同步引擎退出", "account", e.opts.Account)
			return ctx.Err()
		case env := <-envs:
			e.handleEnvelope(env)
		case s := <-statuses:
			e.status = s
		case r := <-e.results:
			e.applyPage(r)
		case fn := <-e.cmds:
			fn()
		case t := <-ticker.C:
			e.est.Tick(t)
			e.acc.Tick(t)
			e.loading.Poll(t)
		}
	}
}

// do 在事件循环中执行 fn 并等待完成
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		fn()
		close(finished)
	}

	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) fetchNext() {
	req := e.pager.Next()
	if req == nil {
		return
	}
	e.loading.Offer(true, e.now())

	ctx := e.runCtx
	r := *req
	slog.Debug("请求文件列表", "generation", r.Generation, "cursor", r.Cursor, "filter", r.Filter.String())

	go func() {
		page, err := e.opts.Fetcher.ListFiles(ctx, e.opts.Account, e.opts.Chat, r.Filter, r.Cursor)
		select {
		case e.results <- pageResult{req: r, page: page, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) applyPage(r pageResult) {
	if !e.pager.Expects(r.req) {
		slog.Debug("丢弃过期的分页响应", "generation", r.req.Generation, "cursor", r.req.Cursor)
		return
	}
	e.pager.Apply(r.req, r.page, r.err, e.overlay.Stamp())
	e.loading.Offer(false, e.now())

	if r.err != nil {
		slog.Warn("获取文件列表失败", "cursor", r.req.Cursor, "err", r.err)
		return
	}

	e.overlay.Index(r.page.Files)
	slog.Info("文件列表已加载",
		"本页", len(r.page.Files),
		"总数", e.pager.Count(),
		"hasMore", e.pager.HasMore(),
	)
}

func (e *Engine) handleEnvelope(env channel.Envelope) {
	e.corr.Observe(env)
	channel.Dispatch(env, liveHandler{e})
}

// reset 新的分页序列：清空覆盖层并释放速率状态
func (e *Engine) reset() {
	e.overlay.Reset()
	e.est.Retain(nil)
}

func (e *Engine) view() View {
	files := Project(e.pager.Pages(), e.overlay)
	items := make([]Item, len(files))
	for i, f := range files {
		items[i] = Item{File: f, Speed: e.sample(&f)}
	}
	return View{
		Items:       items,
		Pages:       len(e.pager.Pages()),
		Count:       e.pager.Count(),
		HasMore:     e.pager.HasMore(),
		Loading:     e.loading.Value(),
		Err:         e.pager.Err(),
		Filter:      e.pager.Filter(),
		AccountRate: e.acc.Rate(),
		Status:      e.status,
	}
}

// sample 没有推送记录时按快照中的字节数计算进度
func (e *Engine) sample(f *api.File) speed.Sample {
	if s, ok := e.est.Sample(f.Key()); ok {
		return s
	}
	return speed.Sample{Progress: snapshotProgress(f)}
}

func snapshotProgress(f *api.File) float64 {
	if f.DownloadStatus == api.DownloadCompleted {
		return 100
	}
	if f.Size > 0 {
		return min(float64(f.DownloadedSize)/float64(f.Size)*100, 100)
	}
	return 0
}

// seedSpeed 文件第一次收到推送时，用合并后的记录初始化进度
func (e *Engine) seedSpeed(key string) {
	if _, ok := e.est.Sample(key); ok {
		return
	}
	if f, ok := Lookup(e.pager.Pages(), e.overlay, key); ok {
		e.est.Seed(key, snapshotProgress(&f))
	}
}

// View 当前合并后的列表及状态
func (e *Engine) View(ctx context.Context) (View, error) {
	var v View
	err := e.do(ctx, func() { v = e.view() })
	return v, err
}

// LoadMore 请求下一页
func (e *Engine) LoadMore(ctx context.Context) error {
	return e.do(ctx, e.fetchNext)
}

// SetFilter 更新并持久化过滤条件，值相同时不会重新加载
func (e *Engine) SetFilter(ctx context.Context, f filter.Filter) (bool, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return false, err
	}

	var (
		changed bool
		saveErr error
	)
	err := e.do(ctx, func() {
		changed = e.pager.SetFilter(f)
		if !changed {
			return
		}
		slog.Info("过滤条件变化，重新加载", "filter", f.String())
		e.reset()
		if e.opts.Filters != nil {
			if _, err := e.opts.Filters.Set(f); err != nil {
				saveErr = fmt.Errorf("保存过滤条件失败: %w", err)
			}
		}
		e.fetchNext()
	})
	if err != nil {
		return false, err
	}
	return changed, saveErr
}

// Retry 清除上次的拉取错误并重新请求
func (e *Engine) Retry(ctx context.Context) error {
	return e.do(ctx, func() {
		e.pager.Retry()
		e.fetchNext()
	})
}

// Successor 返回列表中 i 的下一项
// 已经在末尾且还有更多页时顺便请求下一页
func (e *Engine) Successor(ctx context.Context, i int) (Item, bool, error) {
	var (
		item Item
		ok   bool
	)
	err := e.do(ctx, func() {
		v := e.view()
		var j int
		if j, ok = Successor(i, len(v.Items)); ok {
			item = v.Items[j]
			return
		}
		if v.HasMore {
			e.fetchNext()
		}
	})
	return item, ok, err
}

// Predecessor 返回列表中 i 的前一项
func (e *Engine) Predecessor(ctx context.Context, i int) (Item, bool, error) {
	var (
		item Item
		ok   bool
	)
	err := e.do(ctx, func() {
		v := e.view()
		var j int
		if j, ok = Predecessor(i, len(v.Items)); ok {
			item = v.Items[j]
		}
	})
	return item, ok, err
}

// Speed 指定文件的进度和速率
func (e *Engine) Speed(ctx context.Context, key string) (speed.Sample, bool, error) {
	var (
		s  speed.Sample
		ok bool
	)
	err := e.do(ctx, func() { s, ok = e.est.Sample(key) })
	return s, ok, err
}

// Invoke 发起远程调用
func (e *Engine) Invoke(ctx context.Context, name string, data any) (string, error) {
	return e.corr.Issue(ctx, name, data)
}

// IsExecuting 指定调用是否仍在执行
func (e *Engine) IsExecuting(code string) bool {
	return e.corr.IsExecuting(code)
}

// IsLastExecuting 最近一次调用是否仍在执行
func (e *Engine) IsLastExecuting() bool {
	return e.corr.IsLastExecuting()
}

// Wait 等待调用完成
func (e *Engine) Wait(ctx context.Context, code string) (method.Result, error) {
	return e.corr.Wait(ctx, code)
}

// liveHandler 处理实时推送
type liveHandler struct {
	e *Engine
}

func (h liveHandler) OnError(env channel.Envelope, msg channel.ErrorMessage) {
	slog.Debug("收到错误推送", "code", env.Code, "message", msg.Message)
}

func (h liveHandler) OnAuthorization(env channel.Envelope, msg channel.AuthorizationMessage) {
	slog.Info("账号授权状态变化", "account", h.e.opts.Account, "constructor", msg.Constructor)
}

func (h liveHandler) OnMethodResult(env channel.Envelope, msg channel.MethodResultMessage) {
	slog.Debug("收到调用结果", "code", env.Code)
}

func (h liveHandler) OnFileUpdate(env channel.Envelope, msg channel.FileUpdateMessage) {
	e := h.e
	f := msg.File
	key, ok := e.overlay.Resolve(f.Remote.UniqueID, f.ID)
	if !ok || !e.overlay.Known(key) {
		return
	}

	// 没有本地信息的帧不携带字节数
	if f.Local == nil {
		return
	}

	downloaded := f.Local.DownloadedSize
	e.seedSpeed(key)
	e.est.Observe(key, env.Timestamp, downloaded, f.TotalSize())
	e.overlay.Apply(Delta{ID: f.ID, Key: key, DownloadedSize: &downloaded})
}

func (h liveHandler) OnFileDownload(env channel.Envelope, msg channel.FileDownloadMessage) {
	h.e.acc.Observe(env.Timestamp, msg.DownloadedSize, msg.TotalCount)
}

func (h liveHandler) OnFileStatus(env channel.Envelope, msg channel.FileStatusMessage) {
	e := h.e
	key, ok := e.overlay.Resolve(msg.UniqueID, msg.FileID)
	if !ok || !e.overlay.Known(key) {
		slog.Debug("忽略不在当前列表中的文件状态", "fileId", msg.FileID)
		return
	}

	_, changed := e.overlay.Apply(Delta{
		ID:             msg.FileID,
		Key:            key,
		DownloadStatus: msg.DownloadStatus,
		TransferStatus: msg.TransferStatus,
		DownloadedSize: msg.DownloadedSize,
		LocalPath:      msg.LocalPath,
		CompletionDate: msg.CompletionDate,
	})
	if msg.DownloadStatus != nil {
		e.seedSpeed(key)
		e.est.SetStatus(key, *msg.DownloadStatus)
	}
	slog.Debug("文件状态更新", "key", key, "changed", changed)
}
