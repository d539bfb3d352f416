package sync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgfiles/internal/api"
	"tgfiles/internal/filter"
)

func makeFiles(from, n int) []api.File {
	files := make([]api.File, n)
	for i := range files {
		id := from + i
		files[i] = api.File{
			ID:             int64(id),
			UniqueID:       fmt.Sprintf("u%d", id),
			FileName:       fmt.Sprintf("file-%d.mp4", id),
			Size:           1000,
			DownloadStatus: api.DownloadIdle,
		}
	}
	return files
}

func withSearch(s string) filter.Filter {
	f := filter.Default()
	f.Search = s
	return f
}

func TestPagerFetchesUntilExhausted(t *testing.T) {
	p := NewPager(filter.Default())
	assert.True(t, p.HasMore(), "no pages yet")

	responses := []*api.FilePage{
		{Files: makeFiles(1, 50), Count: 120, NextCursor: 51},
		{Files: makeFiles(51, 50), Count: 120, NextCursor: 101},
		{Files: makeFiles(101, 20), Count: 120, NextCursor: 0},
	}
	wantCursors := []int64{api.InitialCursor, 51, 101}

	for i, page := range responses {
		req := p.Next()
		require.NotNil(t, req, "page %d", i)
		assert.Equal(t, wantCursors[i], req.Cursor)
		assert.Nil(t, p.Next(), "request in flight")
		require.True(t, p.Apply(*req, page, nil, uint64(i+1)))
	}

	assert.False(t, p.HasMore())
	assert.Nil(t, p.Next())

	files := Project(p.Pages(), nil)
	require.Len(t, files, 120)
	seen := make(map[string]bool)
	for _, f := range files {
		assert.False(t, seen[f.Key()], "duplicate %s", f.Key())
		seen[f.Key()] = true
	}
	assert.Equal(t, "u1", files[0].Key())
	assert.Equal(t, "u120", files[119].Key())
}

func TestPagerFilterChangeResets(t *testing.T) {
	p := NewPager(withSearch("a"))
	req := p.Next()
	require.True(t, p.Apply(*req, &api.FilePage{Files: makeFiles(1, 10), Count: 30, NextCursor: 11}, nil, 1))

	// 相同的值不触发重置
	assert.False(t, p.SetFilter(withSearch("a")))
	assert.Len(t, p.Pages(), 1)

	inFlight := p.Next()
	require.NotNil(t, inFlight)
	assert.EqualValues(t, 11, inFlight.Cursor)

	assert.True(t, p.SetFilter(withSearch("b")))
	assert.Empty(t, p.Pages())
	assert.Zero(t, p.Count())
	assert.True(t, p.HasMore())

	next := p.Next()
	require.NotNil(t, next)
	assert.Equal(t, api.InitialCursor, next.Cursor)
	assert.Equal(t, "b", next.Filter.Search)
	assert.Equal(t, inFlight.Generation+1, next.Generation)

	// 旧序列的响应被丢弃
	assert.False(t, p.Apply(*inFlight, &api.FilePage{Files: makeFiles(11, 10), Count: 30, NextCursor: 21}, nil, 2))
	assert.Empty(t, p.Pages())
	assert.True(t, p.Loading())

	assert.True(t, p.Apply(*next, &api.FilePage{Files: makeFiles(100, 1), Count: 1}, nil, 3))
	assert.Len(t, p.Pages(), 1)
}

func TestPagerErrorRequiresRetry(t *testing.T) {
	p := NewPager(filter.Default())
	req := p.Next()
	boom := errors.New("boom")
	require.True(t, p.Apply(*req, nil, boom, 1))

	assert.ErrorIs(t, p.Err(), boom)
	assert.Nil(t, p.Next())

	p.Retry()
	retry := p.Next()
	require.NotNil(t, retry)
	assert.Equal(t, req.Cursor, retry.Cursor)
}

func TestPagerStopsOnRepeatedCursorOrEmptyPage(t *testing.T) {
	p := NewPager(filter.Default())
	req := p.Next()
	p.Apply(*req, &api.FilePage{Files: makeFiles(1, 2), Count: 100, NextCursor: 3}, nil, 1)
	req = p.Next()
	p.Apply(*req, &api.FilePage{Files: makeFiles(3, 2), Count: 100, NextCursor: 3}, nil, 2)
	assert.False(t, p.HasMore(), "cursor did not advance")

	q := NewPager(filter.Default())
	req = q.Next()
	q.Apply(*req, &api.FilePage{Count: 100, NextCursor: 9}, nil, 1)
	assert.False(t, q.HasMore(), "empty page")
}

func TestPagerDropsDuplicateKeys(t *testing.T) {
	p := NewPager(filter.Default())
	req := p.Next()
	p.Apply(*req, &api.FilePage{Files: makeFiles(1, 3), Count: 6, NextCursor: 4}, nil, 1)
	req = p.Next()
	// 期间有新消息插入，后端把 u3 又返回了一次
	p.Apply(*req, &api.FilePage{Files: makeFiles(3, 3), Count: 6, NextCursor: 0}, nil, 2)

	files := Project(p.Pages(), nil)
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key()
	}
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, keys)
}

func TestPagerDuplicatesDoNotCountTowardsTotal(t *testing.T) {
	p := NewPager(filter.Default())
	req := p.Next()
	p.Apply(*req, &api.FilePage{Files: makeFiles(1, 2), Count: 4, NextCursor: 3}, nil, 1)
	req = p.Next()
	require.NotNil(t, req)
	// 第二页与第一页重叠一条
	p.Apply(*req, &api.FilePage{Files: makeFiles(2, 2), Count: 4, NextCursor: 4}, nil, 2)

	assert.Len(t, Project(p.Pages(), nil), 3)
	assert.True(t, p.HasMore())

	req = p.Next()
	require.NotNil(t, req)
	assert.EqualValues(t, 4, req.Cursor)
	p.Apply(*req, &api.FilePage{Files: makeFiles(4, 1), Count: 4, NextCursor: 5}, nil, 3)
	assert.Len(t, Project(p.Pages(), nil), 4)
	assert.False(t, p.HasMore())
}

func TestPagerLegacyCursorField(t *testing.T) {
	p := NewPager(filter.Default())
	req := p.Next()
	p.Apply(*req, &api.FilePage{Files: makeFiles(1, 1), Count: 2, NextFromMessageID: 77}, nil, 1)
	next := p.Next()
	require.NotNil(t, next)
	assert.EqualValues(t, 77, next.Cursor)
}
