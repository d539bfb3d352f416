// Package method 跟踪通过 REST 发起的远程调用，直到长连接上推送回同一个 code
package method

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tgfiles/internal/channel"
)

// ErrUnknownCode 等待的调用码不是由本客户端发起的
var ErrUnknownCode = errors.New("unknown invocation code")

// maxEarly 提前到达、尚未对应到调用的完成通知最多保留的条数
const maxEarly = 64

// Invoker 发起远程调用并返回服务端分配的关联码
type Invoker interface {
	InvokeMethod(ctx context.Context, method string, data any) (string, error)
}

// Result 调用完成时随消息一起到达的内容
type Result struct {
	Code string
	Type channel.Type
	Data json.RawMessage
	// Err 当完成消息是 Error 类型时不为空
	Err *channel.ErrorMessage
}

// Failed 调用以远端错误结束
func (r Result) Failed() bool {
	return r.Err != nil
}

// Correlator 关联调用与完成通知
//
// 状态只有 Issued -> Completed 一种转换，code 不会被复用。
// 调用请求本身失败时不会进入 Issued。
type Correlator struct {
	invoker Invoker

	mu         sync.Mutex
	issued     map[string]struct{}
	completed  map[string]Result
	early      map[string]Result
	earlyOrder []string
	waiters    map[string]chan struct{}
	last       string
	inFlight   int
	lastResult *Result
}

// New 创建关联器
func New(invoker Invoker) *Correlator {
	return &Correlator{
		invoker:   invoker,
		issued:    make(map[string]struct{}),
		completed: make(map[string]Result),
		early:     make(map[string]Result),
		waiters:   make(map[string]chan struct{}),
	}
}

// Issue 发起调用，返回关联码
// 请求进行中 IsLastExecuting 也为 true
func (c *Correlator) Issue(ctx context.Context, method string, data any) (string, error) {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()

	code, err := c.invoker.InvokeMethod(ctx, method, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	if err != nil {
		return "", fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	if code == "" {
		return "", errors.New("empty invocation code")
	}

	if _, dup := c.issued[code]; dup {
		slog.Warn("服务端返回了重复的调用码", "method", method, "code", code)
	}
	c.issued[code] = struct{}{}
	c.last = code
	// 完成通知可能早于 REST 应答到达
	if res, ok := c.early[code]; ok {
		delete(c.early, code)
		c.complete(res)
	}
	slog.Debug("远程调用已受理", "method", method, "code", code)
	return code, nil
}

// Observe 处理一条推送消息，返回是否完成了某个已发起的调用
// MethodResult、FileStatus 和 Error 都可以结束调用；
// 未知的调用码只在有限的缓冲里保留，等待 Issue 认领
func (c *Correlator) Observe(env channel.Envelope) bool {
	if env.Code == "" {
		return false
	}

	res := Result{Code: env.Code, Type: env.Type}
	switch msg := env.Message.(type) {
	case channel.MethodResultMessage:
		res.Data = msg.Result
	case channel.FileStatusMessage:
		res.Data = env.Data
	case channel.ErrorMessage:
		m := msg
		res.Err = &m
		res.Data = env.Data
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.completed[env.Code]; done {
		return false
	}
	if _, ok := c.issued[env.Code]; !ok {
		c.keepEarly(res)
		return false
	}
	c.complete(res)
	return true
}

func (c *Correlator) complete(res Result) {
	c.completed[res.Code] = res
	c.lastResult = &res
	if ch, ok := c.waiters[res.Code]; ok {
		close(ch)
		delete(c.waiters, res.Code)
	}
}

// keepEarly 先到先得，超出上限时丢弃最早的一条
func (c *Correlator) keepEarly(res Result) {
	if _, ok := c.early[res.Code]; ok {
		return
	}
	for len(c.earlyOrder) >= maxEarly {
		delete(c.early, c.earlyOrder[0])
		c.earlyOrder = c.earlyOrder[1:]
	}
	c.early[res.Code] = res
	c.earlyOrder = append(c.earlyOrder, res.Code)
}

// IsExecuting 指定调用是否已发起且尚未完成
func (c *Correlator) IsExecuting(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executing(code)
}

// IsLastExecuting 只关心最近一次发起的调用
// 更早的调用即使仍未完成也不会反映在这里
func (c *Correlator) IsLastExecuting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight > 0 || (c.last != "" && c.executing(c.last))
}

func (c *Correlator) executing(code string) bool {
	if _, ok := c.issued[code]; !ok {
		return false
	}
	_, done := c.completed[code]
	return !done
}

// Pending 尚未被认领的提前完成通知数量
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.early)
}

// Last 最近一次发起的调用码
func (c *Correlator) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Result 指定调用的完成内容
func (c *Correlator) Result(code string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.completed[code]
	return r, ok
}

// LastResult 最近一次完成的调用内容
func (c *Correlator) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResult == nil {
		return Result{}, false
	}
	return *c.lastResult, true
}

// Done 返回一个在调用完成时关闭的 channel
// 未发起过的调用码得到的 channel 永远不会关闭
func (c *Correlator) Done(code string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.completed[code]; ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if _, ok := c.issued[code]; !ok {
		return make(chan struct{})
	}
	ch, ok := c.waiters[code]
	if !ok {
		ch = make(chan struct{})
		c.waiters[code] = ch
	}
	return ch
}

// Wait 阻塞直到调用完成或 ctx 结束
func (c *Correlator) Wait(ctx context.Context, code string) (Result, error) {
	c.mu.Lock()
	_, ok := c.issued[code]
	c.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("等待 %s: %w", code, ErrUnknownCode)
	}

	select {
	case <-c.Done(code):
		r, _ := c.Result(code)
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
