package sync

import (
	"tgfiles/internal/api"
	"tgfiles/internal/filter"
)

// Pager 基于游标的分页状态
//
// 同一时间只有一个请求在途；过滤条件变化时整组分页作废，generation 加一，
// 旧 generation 的响应到达后被丢弃。
type Pager struct {
	filter     filter.Filter
	generation uint64

	pages   []Page
	count   int64
	fetched int64
	cursor  int64

	inFlight  *PageRequest
	err       error
	exhausted bool

	seenCursors map[int64]struct{}
	seenKeys    map[string]struct{}
}

// NewPager 创建分页器
func NewPager(f filter.Filter) *Pager {
	p := &Pager{filter: f}
	p.reset()
	return p
}

func (p *Pager) reset() {
	p.pages = nil
	p.count = 0
	p.fetched = 0
	p.cursor = api.InitialCursor
	p.inFlight = nil
	p.err = nil
	p.exhausted = false
	p.seenCursors = make(map[int64]struct{})
	p.seenKeys = make(map[string]struct{})
}

// Filter 当前过滤条件
func (p *Pager) Filter() filter.Filter {
	return p.filter
}

// SetFilter 过滤条件按值比较，相同时不做任何事
// 不同则清空所有分页并返回 true
func (p *Pager) SetFilter(f filter.Filter) bool {
	if f.Equal(p.filter) {
		return false
	}
	p.filter = f
	p.generation++
	p.reset()
	return true
}

// Next 返回下一页的请求，不需要请求时返回 nil
// 请求在途、已经没有更多页或上次失败未重试时都不会发出新请求
func (p *Pager) Next() *PageRequest {
	if p.inFlight != nil || p.err != nil || !p.HasMore() {
		return nil
	}
	req := &PageRequest{
		Generation: p.generation,
		Filter:     p.filter,
		Cursor:     p.cursor,
	}
	p.inFlight = req
	return req
}

// Expects req 是否是当前正在等待的请求
func (p *Pager) Expects(req PageRequest) bool {
	return p.inFlight != nil && *p.inFlight == req
}

// Apply 处理请求结果，过期的响应返回 false
// seq 为本页的到达序号，用于和实时推送比较先后
func (p *Pager) Apply(req PageRequest, page *api.FilePage, err error, seq uint64) bool {
	if !p.Expects(req) {
		return false
	}
	p.inFlight = nil

	if err != nil {
		p.err = err
		return true
	}

	files := make([]api.File, 0, len(page.Files))
	for _, f := range page.Files {
		key := f.Key()
		if _, dup := p.seenKeys[key]; dup {
			continue
		}
		p.seenKeys[key] = struct{}{}
		files = append(files, f)
	}
	p.pages = append(p.pages, Page{Files: files, Seq: seq})
	p.count = page.Count
	// 只统计去重后的记录，窗口平移产生的重复不算进度
	p.fetched += int64(len(files))

	next := page.Cursor()
	_, repeated := p.seenCursors[next]
	switch {
	case next == 0, repeated, len(page.Files) == 0:
		p.exhausted = true
	}
	p.seenCursors[req.Cursor] = struct{}{}
	p.seenCursors[next] = struct{}{}
	p.cursor = next
	return true
}

// Retry 清除上次的错误，允许再次请求
func (p *Pager) Retry() {
	p.err = nil
}

// HasMore 还没有任何页时视为有更多
func (p *Pager) HasMore() bool {
	if len(p.pages) == 0 && !p.exhausted {
		return true
	}
	return !p.exhausted && p.fetched < p.count
}

// Loading 是否有请求在途
func (p *Pager) Loading() bool {
	return p.inFlight != nil
}

// Err 最近一次请求的错误
func (p *Pager) Err() error {
	return p.err
}

// Pages 已获取的分页，按请求顺序
func (p *Pager) Pages() []Page {
	return p.pages
}

// Count 后端报告的总数
func (p *Pager) Count() int64 {
	return p.count
}

// Generation 当前分页序列的编号
func (p *Pager) Generation() uint64 {
	return p.generation
}
