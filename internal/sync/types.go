package sync

import (
	"tgfiles/internal/api"
	"tgfiles/internal/channel"
	"tgfiles/internal/filter"
	"tgfiles/internal/speed"
)

// OpType 文件控制操作类型
type OpType int

const (
	OpStart       OpType = iota // 开始下载
	OpCancel                    // 取消下载
	OpTogglePause               // 暂停 / 恢复
	OpRemove                    // 删除已下载的文件
)

func (o OpType) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpCancel:
		return "cancel"
	case OpTogglePause:
		return "toggle-pause"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Delta 推送消息中对单个文件可变字段的部分更新
// nil 字段表示消息中没有携带
type Delta struct {
	// ID 易变编号，只在 Key 为空时用来查找稳定标识
	ID  int64
	Key string

	DownloadStatus *api.DownloadStatus
	TransferStatus *api.TransferStatus
	DownloadedSize *int64
	LocalPath      *string
	CompletionDate *int64
}

// Page 一页快照及其到达序号
type Page struct {
	Files []api.File
	Seq   uint64
}

// PageRequest 一次分页请求的身份，用于丢弃过期的响应
type PageRequest struct {
	Generation uint64
	Filter     filter.Filter
	Cursor     int64
}

// Item 合并后的文件及其速率
type Item struct {
	api.File
	Speed speed.Sample
}

// View 渲染所需的完整快照
type View struct {
	Items   []Item
	Pages   int
	Count   int64
	HasMore bool
	Loading bool
	Err     error
	Filter  filter.Filter

	AccountRate float64
	Status      channel.Status
}
