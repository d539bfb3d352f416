package database

import "time"

// FilterState 代表一次持久化的文件列表过滤条件
// 存入数据库时会序列化为 JSON
type FilterState struct {
	// 作为数据库的 Key，这里也存一份冗余方便反序列化
	Scope string `json:"scope"`

	Search string `json:"search"`
	Type   string `json:"type"`
	Status string `json:"status"`

	// 最后一次写入的时间 (Unix Nano)
	UpdatedAt int64 `json:"updated_at"`
}

// UpdatedAtAsTime 辅助方法：转为 Go Time 对象
func (f *FilterState) UpdatedAtAsTime() time.Time {
	return time.Unix(0, f.UpdatedAt)
}
