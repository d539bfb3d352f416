package api

import (
	"encoding/json"
	"fmt"
)

// DownloadStatus 文件下载状态
type DownloadStatus string

const (
	DownloadIdle        DownloadStatus = "idle"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadPaused      DownloadStatus = "paused"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadError       DownloadStatus = "error"
)

// TransferStatus 下载完成后转存到目标目录的状态
type TransferStatus string

const (
	TransferIdle         TransferStatus = "idle"
	TransferTransferring TransferStatus = "transferring"
	TransferCompleted    TransferStatus = "completed"
	TransferError        TransferStatus = "error"
)

// FileType 文件类型
type FileType string

const (
	FilePhoto   FileType = "photo"
	FileVideo   FileType = "video"
	FileAudio   FileType = "audio"
	FileGeneric FileType = "file"
)

// File 后端返回的一条文件记录
type File struct {
	// ID 是后端的易变编号，不同会话之间可能被重新分配
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegramId"`
	UniqueID   string `json:"uniqueId"` // 内容寻址的稳定标识
	MessageID  int64  `json:"messageId"`
	ChatID     int64  `json:"chatId"`

	FileName            string          `json:"fileName"`
	Type                FileType        `json:"type"`
	Size                int64           `json:"size"`
	Thumbnail           string          `json:"thumbnail,omitempty"`
	Date                int64           `json:"date"`
	FormatDate          string          `json:"formatDate,omitempty"`
	Caption             string          `json:"caption"`
	HasSensitiveContent bool            `json:"hasSensitiveContent"`
	StartDate           int64           `json:"startDate"`
	Extra               json.RawMessage `json:"extra,omitempty"`

	// 以下字段会被实时推送覆盖
	DownloadStatus DownloadStatus `json:"downloadStatus"`
	TransferStatus TransferStatus `json:"transferStatus,omitempty"`
	DownloadedSize int64          `json:"downloadedSize"`
	LocalPath      string         `json:"localPath"`
	CompletionDate int64          `json:"completionDate"`
}

// Key 返回文件的稳定标识
// 没有 uniqueId 时退化为消息引用 (chat + message)，同样不随会话变化
func (f *File) Key() string {
	if f.UniqueID != "" {
		return f.UniqueID
	}
	return MessageKey(f.ChatID, f.MessageID)
}

// MessageKey 由消息引用构造的稳定标识
func MessageKey(chatID, messageID int64) string {
	return fmt.Sprintf("msg:%d:%d", chatID, messageID)
}

// FilePage /telegram/{account}/chat/{chat}/files 响应
type FilePage struct {
	Files []File `json:"files"`
	Count int64  `json:"count"`
	// NextCursor 为 0 表示没有更多页
	NextCursor int64 `json:"nextCursor"`
	// 旧版后端使用的字段名
	NextFromMessageID int64 `json:"nextFromMessageId,omitempty"`
}

// Cursor 返回下一页游标，兼容新旧字段名
func (p *FilePage) Cursor() int64 {
	if p.NextCursor != 0 {
		return p.NextCursor
	}
	return p.NextFromMessageID
}

// MethodResult /telegram/api/{method} 的同步确认
type MethodResult struct {
	Code string `json:"code"`
}

// StartDownloadRequest 开始下载单个文件
type StartDownloadRequest struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
	FileID    int64 `json:"fileId"`
}

// FileIDRequest 只需要文件编号的控制请求
type FileIDRequest struct {
	FileID int64 `json:"fileId"`
}

// TogglePauseRequest 暂停或恢复下载
type TogglePauseRequest struct {
	FileID   int64 `json:"fileId"`
	IsPaused bool  `json:"isPaused"`
}

// StartDownloadMultipleRequest 批量开始下载
type StartDownloadMultipleRequest struct {
	Files []StartDownloadRequest `json:"files"`
}

// errorPayload 后端在失败时返回的 JSON
type errorPayload struct {
	Error string `json:"error"`
}
