package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status 连接状态
type Status int

const (
	Connecting Status = iota
	Open
	Closing
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrReconnectExhausted 重连次数用尽，连接停留在 Closed
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrorReporter 接收远端推送的 Error 消息
type ErrorReporter interface {
	ReportRemoteError(env Envelope, msg ErrorMessage)
}

// ErrorReporterFunc 函数适配器
type ErrorReporterFunc func(env Envelope, msg ErrorMessage)

func (f ErrorReporterFunc) ReportRemoteError(env Envelope, msg ErrorMessage) { f(env, msg) }

type logReporter struct{}

func (logReporter) ReportRemoteError(env Envelope, msg ErrorMessage) {
	slog.Error("远端返回错误", "code", env.Code, "message", msg.Message)
}

// Options 初始化选项
type Options struct {
	URL     string
	Account string // 连接按账号划分

	ReconnectAttempts int
	ReconnectInterval time.Duration

	Reporter ErrorReporter
	Dialer   *websocket.Dialer
}

type subscription struct {
	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Channel 持有一条到后端的 websocket 长连接
// 只有创建者可以调用 Run 和 Close，其余方法可被任意订阅方并发调用
type Channel struct {
	opts *Options
	url  string

	mu         sync.RWMutex
	status     Status
	latest     *Envelope
	conn       *websocket.Conn
	closing    bool
	nextID     int
	subs       map[int]*subscription
	statusSubs map[int]chan Status

	writeMu sync.Mutex
}

// New 创建连接对象，不会立即建立连接
func New(opts *Options) (*Channel, error) {
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.Reporter == nil {
		opts.Reporter = logReporter{}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("telegramId", opts.Account)
	u.RawQuery = q.Encode()

	return &Channel{
		opts:       opts,
		url:        u.String(),
		status:     Closed,
		subs:       make(map[int]*subscription),
		statusSubs: make(map[int]chan Status),
	}, nil
}

// Status 当前连接状态
func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Latest 最近收到的一条消息
func (c *Channel) Latest() (Envelope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return Envelope{}, false
	}
	return *c.latest, true
}

// Subscribe 订阅之后到达的所有消息，按到达顺序投递
// 订阅方必须持续读取，或调用返回的 cancel 退订
func (c *Channel) Subscribe() (<-chan Envelope, func()) {
	sub := &subscription{
		ch:   make(chan Envelope, 256),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	c.mu.Unlock()

	return sub.ch, func() {
		sub.cancel()
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// WatchStatus 订阅连接状态，只保留最新值
func (c *Channel) WatchStatus() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.statusSubs[id] = ch
	ch <- c.status
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}
}

// Send 发送一条消息，连接未打开时静默忽略
func (c *Channel) Send(env Envelope) error {
	c.mu.RLock()
	conn := c.conn
	open := c.status == Open
	c.mu.RUnlock()
	if !open || conn == nil {
		return nil
	}

	data, err := Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close 主动关闭连接，Run 随后返回 nil
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		c.setStatus(Closed)
		return nil
	}
	c.mu.Unlock()
	c.setStatus(Closing)

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// Run 建立连接并持续读取，意外断开时按固定间隔重连
// 重连次数用尽后返回 ErrReconnectExhausted
func (c *Channel) Run(ctx context.Context) error {
	failures := 0
	for {
		if c.isClosing() {
			c.setStatus(Closed)
			return nil
		}

		c.setStatus(Connecting)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(Closed)
				return ctx.Err()
			}
			slog.Warn("websocket 连接失败", "url", c.url, "attempt", failures+1, "err", err)
		} else {
			failures = 0
			if !c.attach(conn) {
				c.setStatus(Closed)
				return nil
			}
			slog.Info("websocket 已连接", "account", c.opts.Account)

			err = c.readLoop(ctx, conn)
			c.detach()

			if c.isClosing() {
				c.setStatus(Closed)
				slog.Info("websocket 已关闭", "account", c.opts.Account)
				return nil
			}
			if ctx.Err() != nil {
				c.setStatus(Closed)
				return ctx.Err()
			}
			slog.Warn("websocket 连接意外断开", "account", c.opts.Account, "err", err)
		}

		failures++
		if failures > c.opts.ReconnectAttempts {
			c.setStatus(Closed)
			slog.Error("websocket 重连次数用尽", "account", c.opts.Account, "attempts", c.opts.ReconnectAttempts)
			return ErrReconnectExhausted
		}

		c.setStatus(Connecting)
		select {
		case <-ctx.Done():
			c.setStatus(Closed)
			return ctx.Err()
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// ctx 取消时关闭连接，让 ReadMessage 返回
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := Parse(frame)
		if err != nil {
			slog.Warn("丢弃无法解析的消息", "err", err, "size", len(frame))
			continue
		}
		c.deliver(ctx, env)
	}
}

func (c *Channel) deliver(ctx context.Context, env Envelope) {
	c.mu.Lock()
	c.latest = &env
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if env.Type == TypeError {
		if msg, ok := env.Message.(ErrorMessage); ok {
			c.opts.Reporter.ReportRemoteError(env, msg)
		}
	}

	for _, s := range subs {
		select {
		case s.ch <- env:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// attach 在 Close 已被调用时丢弃新连接并返回 false
func (c *Channel) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(Open)
	return true
}

func (c *Channel) detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == s {
		return
	}
	c.status = s
	for _, ch := range c.statusSubs {
		// 只保留最新状态
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
