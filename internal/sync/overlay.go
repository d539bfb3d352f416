package sync

import (
	"log/slog"

	"tgfiles/internal/api"
)

// stamped 带到达序号的字段值
type stamped[T comparable] struct {
	v   T
	seq uint64
}

type patch struct {
	downloadStatus *stamped[api.DownloadStatus]
	transferStatus *stamped[api.TransferStatus]
	downloadedSize *stamped[int64]
	localPath      *stamped[string]
	completionDate *stamped[int64]
}

// Overlay 实时推送的字段覆盖层
//
// 以稳定标识为键，易变编号只通过当前分页建立的索引解析。
// 快照页和推送共用一个递增的到达序号，按到达顺序决定哪个值生效。
type Overlay struct {
	seq      uint64
	lastPage uint64

	entries map[string]*patch
	ids     map[int64]string
	keys    map[string]struct{}
}

// NewOverlay 创建覆盖层
func NewOverlay() *Overlay {
	return &Overlay{
		entries: make(map[string]*patch),
		ids:     make(map[int64]string),
		keys:    make(map[string]struct{}),
	}
}

// Stamp 分配下一个到达序号，快照页到达时调用
func (o *Overlay) Stamp() uint64 {
	o.seq++
	o.lastPage = o.seq
	return o.seq
}

// Index 记录分页中的易变编号到稳定标识的映射
func (o *Overlay) Index(files []api.File) {
	for i := range files {
		key := files[i].Key()
		o.keys[key] = struct{}{}
		if files[i].ID != 0 {
			o.ids[files[i].ID] = key
		}
	}
}

// Known 文件是否在当前工作集中
func (o *Overlay) Known(key string) bool {
	_, ok := o.keys[key]
	return ok
}

// Keys 当前工作集的所有稳定标识
func (o *Overlay) Keys() map[string]struct{} {
	return o.keys
}

// Resolve 优先使用稳定标识，否则通过易变编号查找
func (o *Overlay) Resolve(key string, id int64) (string, bool) {
	if key != "" {
		return key, true
	}
	key, ok := o.ids[id]
	return key, ok
}

// Reset 新的分页序列开始时清空，序号继续递增
func (o *Overlay) Reset() {
	o.entries = make(map[string]*patch)
	o.ids = make(map[int64]string)
	o.keys = make(map[string]struct{})
}

// Apply 合并一条部分更新，返回解析出的稳定标识和是否有变化
// 无法解析的更新被丢弃，返回空标识
func (o *Overlay) Apply(d Delta) (string, bool) {
	key, ok := o.Resolve(d.Key, d.ID)
	if !ok {
		slog.Debug("丢弃无法定位的文件更新", "fileId", d.ID)
		return "", false
	}
	if d.Key != "" && d.ID != 0 {
		o.ids[d.ID] = key
	}

	p, ok := o.entries[key]
	if !ok {
		p = &patch{}
		o.entries[key] = p
	}

	changed := false
	changed = set(o, &p.downloadStatus, d.DownloadStatus) || changed
	changed = set(o, &p.transferStatus, d.TransferStatus) || changed
	changed = set(o, &p.downloadedSize, d.DownloadedSize) || changed
	changed = set(o, &p.localPath, d.LocalPath) || changed
	changed = set(o, &p.completionDate, d.CompletionDate) || changed
	return key, changed
}

// set 相同的值重复到达不产生变化；但若期间有快照页到达，需要刷新序号重新盖过快照
func set[T comparable](o *Overlay, field **stamped[T], v *T) bool {
	if v == nil {
		return false
	}
	cur := *field
	if cur != nil && cur.v == *v && cur.seq > o.lastPage {
		return false
	}
	o.seq++
	*field = &stamped[T]{v: *v, seq: o.seq}
	return true
}

// merge 把比快照页更新的字段写入 f
func (o *Overlay) merge(f *api.File, pageSeq uint64) {
	p, ok := o.entries[f.Key()]
	if !ok {
		return
	}
	if v := p.downloadStatus; v != nil && v.seq > pageSeq {
		f.DownloadStatus = v.v
	}
	if v := p.transferStatus; v != nil && v.seq > pageSeq {
		f.TransferStatus = v.v
	}
	if v := p.downloadedSize; v != nil && v.seq > pageSeq {
		f.DownloadedSize = v.v
	}
	if v := p.localPath; v != nil && v.seq > pageSeq {
		f.LocalPath = v.v
	}
	if v := p.completionDate; v != nil && v.seq > pageSeq {
		f.CompletionDate = v.v
	}
}
