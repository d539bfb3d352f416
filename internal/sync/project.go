package sync

import "tgfiles/internal/api"

// Project 合并快照页与覆盖层
// 按页顺序、页内顺序输出，不做过滤和排序
func Project(pages []Page, ov *Overlay) []api.File {
	n := 0
	for _, p := range pages {
		n += len(p.Files)
	}

	out := make([]api.File, 0, n)
	for _, p := range pages {
		for _, f := range p.Files {
			if ov != nil {
				ov.merge(&f, p.Seq)
			}
			out = append(out, f)
		}
	}
	return out
}

// Lookup 按稳定标识查找合并后的记录
func Lookup(pages []Page, ov *Overlay, key string) (api.File, bool) {
	for _, p := range pages {
		for _, f := range p.Files {
			if f.Key() != key {
				continue
			}
			if ov != nil {
				ov.merge(&f, p.Seq)
			}
			return f, true
		}
	}
	return api.File{}, false
}

// Predecessor 列表中 i 的前一项
func Predecessor(i, n int) (int, bool) {
	if i <= 0 || i >= n {
		return 0, false
	}
	return i - 1, true
}

// Successor 列表中 i 的后一项
func Successor(i, n int) (int, bool) {
	if i < 0 || i+1 >= n {
		return 0, false
	}
	return i + 1, true
}
