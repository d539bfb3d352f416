package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgfiles/internal/api"
	"tgfiles/internal/channel"
	"tgfiles/internal/filter"
)

type fetchCall struct {
	filter filter.Filter
	cursor int64
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(f filter.Filter, cursor int64) (*api.FilePage, error)
}

func (f *fakeFetcher) ListFiles(ctx context.Context, account, chat string, flt filter.Filter, cursor int64) (*api.FilePage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{flt, cursor})
	f.mu.Unlock()
	return f.fn(flt, cursor)
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type fakeStream struct {
	envs     chan channel.Envelope
	statuses chan channel.Status
}

func newFakeStream() *fakeStream {
	return &fakeStream{envs: make(chan channel.Envelope, 16), statuses: make(chan channel.Status, 1)}
}

func (s *fakeStream) Subscribe() (<-chan channel.Envelope, func()) { return s.envs, func() {} }
func (s *fakeStream) WatchStatus() (<-chan channel.Status, func()) {
	return s.statuses, func() {}
}

func (s *fakeStream) push(t *testing.T, frame string) {
	t.Helper()
	env, err := channel.Parse([]byte(frame))
	require.NoError(t, err)
	s.envs <- env
}

type memFilters struct {
	mu   sync.Mutex
	f    filter.Filter
	sets int
}

func (m *memFilters) Get() filter.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f
}

func (m *memFilters) Set(f filter.Filter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	changed := !m.f.Equal(f)
	m.f = f
	return changed, nil
}

func startEngine(t *testing.T, opts *EngineOptions) *Engine {
	t.Helper()
	e := NewEngine(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func viewOf(t *testing.T, e *Engine) View {
	t.Helper()
	v, err := e.View(context.Background())
	assert.NoError(t, err)
	return v
}

func keysOf(v View) []string {
	keys := make([]string, len(v.Items))
	for i, it := range v.Items {
		keys[i] = it.Key()
	}
	return keys
}

func TestEngineLoadsPagesAndAppliesLiveUpdates(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(f filter.Filter, cursor int64) (*api.FilePage, error) {
		if cursor == api.InitialCursor {
			return &api.FilePage{Files: makeFiles(1, 2), Count: 4, NextCursor: 3}, nil
		}
		return &api.FilePage{Files: makeFiles(3, 2), Count: 4, NextCursor: 0}, nil
	}}
	stream := newFakeStream()
	e := startEngine(t, &EngineOptions{Account: "1", Chat: "2", Fetcher: fetcher, Stream: stream})

	require.Eventually(t, func() bool { return len(viewOf(t, e).Items) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, viewOf(t, e).HasMore)

	require.NoError(t, e.LoadMore(context.Background()))
	require.Eventually(t, func() bool { return len(viewOf(t, e).Items) == 4 }, 2*time.Second, 5*time.Millisecond)

	v := viewOf(t, e)
	assert.False(t, v.HasMore)
	assert.EqualValues(t, 4, v.Count)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, keysOf(v))
	assert.Equal(t, []fetchCall{{filter.Default(), 0}, {filter.Default(), 3}}, fetcher.Calls())

	// 只携带易变编号的状态推送
	stream.push(t, `{"type":5,"data":{"fileId":2,"downloadStatus":"downloading"},"timestamp":1000}`)
	stream.push(t, `{"type":5,"data":{"fileId":999,"downloadStatus":"completed"},"timestamp":1001}`)
	stream.push(t, `{"type":3,"data":{"file":{"id":2,"size":1000,"local":{"downloadedSize":250},"remote":{"uniqueId":"u2"}}},"timestamp":1002}`)
	stream.statuses <- channel.Open

	require.Eventually(t, func() bool {
		v := viewOf(t, e)
		return v.Items[1].DownloadStatus == api.DownloadDownloading && v.Items[1].DownloadedSize == 250 &&
			v.Status == channel.Open
	}, 2*time.Second, 5*time.Millisecond)

	v = viewOf(t, e)
	assert.Equal(t, api.DownloadIdle, v.Items[0].DownloadStatus)
	assert.InDelta(t, 25, v.Items[1].Speed.Progress, 0.001)
	assert.Equal(t, channel.Open, v.Status)

	s, ok, err := e.Speed(context.Background(), "u2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 25, s.Progress, 0.001)

	next, ok, err := e.Successor(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u2", next.Key())

	prev, ok, err := e.Predecessor(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, prev.Key())
}

func TestEngineDiscardsStaleResponseAfterFilterChange(t *testing.T) {
	gateA := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(f filter.Filter, cursor int64) (*api.FilePage, error) {
		switch f.Search {
		case "a":
			<-gateA
			return &api.FilePage{Files: []api.File{{ID: 1, UniqueID: "a1"}}, Count: 1}, nil
		case "b":
			return &api.FilePage{Files: []api.File{{ID: 1, UniqueID: "b1"}}, Count: 1}, nil
		default:
			return &api.FilePage{Files: []api.File{{ID: 1, UniqueID: "x1"}}, Count: 1}, nil
		}
	}}
	filters := &memFilters{f: filter.Default()}
	e := startEngine(t, &EngineOptions{Fetcher: fetcher, Filters: filters})

	require.Eventually(t, func() bool { return len(viewOf(t, e).Items) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	changed, err := e.SetFilter(ctx, filter.Filter{Search: "a"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, viewOf(t, e).Items, "previous pages discarded")

	changed, err = e.SetFilter(ctx, filter.Filter{Search: "b"})
	require.NoError(t, err)
	assert.True(t, changed)

	require.Eventually(t, func() bool {
		keys := keysOf(viewOf(t, e))
		return len(keys) == 1 && keys[0] == "b1"
	}, 2*time.Second, 5*time.Millisecond)

	close(gateA)
	assert.Never(t, func() bool {
		for _, k := range keysOf(viewOf(t, e)) {
			if k == "a1" {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, 10*time.Millisecond)

	calls := fetcher.Calls()
	require.Len(t, calls, 3)
	for _, c := range calls {
		if c.filter.Search == "b" {
			assert.Equal(t, api.InitialCursor, c.cursor)
		}
	}

	// 相同的值不触发重新加载
	changed, err = e.SetFilter(ctx, filter.Filter{Search: "b", Type: "media", Status: "all"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, fetcher.Calls(), 3)
	assert.Equal(t, "b", filters.Get().Search)
	assert.Equal(t, 2, filters.sets)

	_, err = e.SetFilter(ctx, filter.Filter{Type: "bogus"})
	assert.Error(t, err)
}

func TestEngineRetryAfterFailure(t *testing.T) {
	var mu sync.Mutex
	fail := true
	fetcher := &fakeFetcher{fn: func(f filter.Filter, cursor int64) (*api.FilePage, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, &api.TransportError{Op: "GET", Err: context.DeadlineExceeded}
		}
		return &api.FilePage{Files: makeFiles(1, 1), Count: 1}, nil
	}}
	e := startEngine(t, &EngineOptions{Fetcher: fetcher})

	require.Eventually(t, func() bool { return viewOf(t, e).Err != nil }, 2*time.Second, 5*time.Millisecond)

	// 失败后 LoadMore 不会重新请求
	require.NoError(t, e.LoadMore(context.Background()))
	assert.Len(t, fetcher.Calls(), 1)

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, e.Retry(context.Background()))
	require.Eventually(t, func() bool { return len(viewOf(t, e).Items) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, viewOf(t, e).Err)
}

func TestEngineStoppedReturnsError(t *testing.T) {
	e := NewEngine(&EngineOptions{Fetcher: &fakeFetcher{fn: func(filter.Filter, int64) (*api.FilePage, error) {
		return &api.FilePage{}, nil
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Run(ctx), context.Canceled)

	_, err := e.View(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngineKeepsSnapshotProgressOnFirstLiveFrames(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(f filter.Filter, cursor int64) (*api.FilePage, error) {
		return &api.FilePage{Files: []api.File{
			{ID: 1, UniqueID: "u1", Size: 1000, DownloadedSize: 600, DownloadStatus: api.DownloadDownloading},
			{ID: 2, UniqueID: "u2", Size: 1000, DownloadedSize: 300, DownloadStatus: api.DownloadDownloading},
		}, Count: 2}, nil
	}}
	stream := newFakeStream()
	e := startEngine(t, &EngineOptions{Fetcher: fetcher, Stream: stream})

	require.Eventually(t, func() bool { return len(viewOf(t, e).Items) == 2 }, 2*time.Second, 5*time.Millisecond)

	// 不带 local 的帧既不改字节数也不影响进度
	stream.push(t, `{"type":3,"data":{"file":{"id":1,"size":1000,"remote":{"uniqueId":"u1"}}},"timestamp":1000}`)
	// 只有状态的推送，进度沿用快照
	stream.push(t, `{"type":5,"data":{"fileId":2,"uniqueId":"u2","downloadStatus":"downloading"},"timestamp":1001}`)
	require.Eventually(t, func() bool {
		_, ok, err := e.Speed(context.Background(), "u2")
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)

	v := viewOf(t, e)
	assert.EqualValues(t, 600, v.Items[0].DownloadedSize)
	assert.InDelta(t, 60, v.Items[0].Speed.Progress, 0.001)
	assert.InDelta(t, 30, v.Items[1].Speed.Progress, 0.001)

	// 第一帧字节数低于快照时进度不回退
	stream.push(t, `{"type":3,"data":{"file":{"id":2,"size":1000,"local":{"downloadedSize":200},"remote":{"uniqueId":"u2"}}},"timestamp":1002}`)
	stream.push(t, `{"type":3,"data":{"file":{"id":1,"size":1000,"local":{"downloadedSize":700},"remote":{"uniqueId":"u1"}}},"timestamp":1003}`)
	require.Eventually(t, func() bool { return viewOf(t, e).Items[0].DownloadedSize == 700 }, 2*time.Second, 5*time.Millisecond)

	v = viewOf(t, e)
	assert.InDelta(t, 70, v.Items[0].Speed.Progress, 0.001)
	assert.InDelta(t, 30, v.Items[1].Speed.Progress, 0.001)
}

func TestEngineStaleResponseDoesNotStamp(t *testing.T) {
	e := NewEngine(&EngineOptions{Fetcher: &fakeFetcher{fn: func(filter.Filter, int64) (*api.FilePage, error) {
		return &api.FilePage{}, nil
	}}})
	req := e.pager.Next()
	require.NotNil(t, req)
	current := *req
	before := e.overlay.seq

	stale := current
	stale.Generation++
	e.applyPage(pageResult{req: stale, page: &api.FilePage{Files: makeFiles(1, 1), Count: 1}})
	assert.Equal(t, before, e.overlay.seq)
	assert.Equal(t, before, e.overlay.lastPage)
	assert.Empty(t, e.pager.Pages())

	e.applyPage(pageResult{req: current, page: &api.FilePage{Files: makeFiles(1, 1), Count: 1}})
	assert.Equal(t, before+1, e.overlay.lastPage)
	require.Len(t, e.pager.Pages(), 1)
	assert.Equal(t, e.overlay.lastPage, e.pager.Pages()[0].Seq)
}
