package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"tgfiles/internal/api"
)

// Type 推送消息类型
type Type int

const (
	TypeError                 Type = -1
	TypeAuthorization         Type = 1
	TypeMethodResult          Type = 2
	TypeFileUpdate            Type = 3
	TypeFileDownloadAggregate Type = 4
	TypeFileStatus            Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "error"
	case TypeAuthorization:
		return "authorization"
	case TypeMethodResult:
		return "method_result"
	case TypeFileUpdate:
		return "file_update"
	case TypeFileDownloadAggregate:
		return "file_download"
	case TypeFileStatus:
		return "file_status"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ErrUnknownType 消息类型不在已知范围内
var ErrUnknownType = errors.New("unknown envelope type")

// Envelope 长连接上的一帧消息
// Message 是按 Type 解码后的具体内容，Data 保留原始 JSON
type Envelope struct {
	Type      Type
	Code      string
	Timestamp int64 // 毫秒
	Data      json.RawMessage
	Message   Message
}

// Message 是封闭的消息类型集合，只有本包内的类型可以实现
type Message interface {
	accept(env Envelope, h Handler)
}

// Handler 每种消息类型对应一个方法
// 新增消息类型时必须在这里加方法，所有实现方都会编译失败，从而不会漏处理
type Handler interface {
	OnError(env Envelope, msg ErrorMessage)
	OnAuthorization(env Envelope, msg AuthorizationMessage)
	OnMethodResult(env Envelope, msg MethodResultMessage)
	OnFileUpdate(env Envelope, msg FileUpdateMessage)
	OnFileDownload(env Envelope, msg FileDownloadMessage)
	OnFileStatus(env Envelope, msg FileStatusMessage)
}

// Dispatch 把消息分发给 Handler 中对应的方法
func Dispatch(env Envelope, h Handler) {
	if env.Message == nil {
		return
	}
	env.Message.accept(env, h)
}

// ErrorMessage 远端报告的业务错误
type ErrorMessage struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// AuthorizationMessage 账号授权状态变化，内容原样保留
type AuthorizationMessage struct {
	Constructor int64           `json:"constructor"`
	State       json.RawMessage `json:"-"`
}

// MethodResultMessage 透传方法的执行结果
type MethodResultMessage struct {
	Result json.RawMessage
}

// FileUpdateMessage 单个文件的字节级下载进度
type FileUpdateMessage struct {
	File TDFile `json:"file"`
}

// TDFile 推送中携带的底层文件对象
type TDFile struct {
	ID           int64        `json:"id"`
	Size         int64        `json:"size"`
	ExpectedSize int64        `json:"expectedSize"`
	Local        *TDLocalFile `json:"local,omitempty"`
	Remote       TDRemoteFile `json:"remote"`
}

// TotalSize 大小未知时使用预估大小
func (f *TDFile) TotalSize() int64 {
	if f.Size == 0 {
		return f.ExpectedSize
	}
	return f.Size
}

type TDLocalFile struct {
	Path                   string `json:"path"`
	CanBeDownloaded        bool   `json:"canBeDownloaded"`
	CanBeDeleted           bool   `json:"canBeDeleted"`
	IsDownloadingActive    bool   `json:"isDownloadingActive"`
	IsDownloadingCompleted bool   `json:"isDownloadingCompleted"`
	DownloadOffset         int64  `json:"downloadOffset"`
	DownloadedPrefixSize   int64  `json:"downloadedPrefixSize"`
	DownloadedSize         int64  `json:"downloadedSize"`
}

type TDRemoteFile struct {
	ID                   string `json:"id"`
	UniqueID             string `json:"uniqueId"`
	IsUploadingActive    bool   `json:"isUploadingActive"`
	IsUploadingCompleted bool   `json:"isUploadingCompleted"`
	UploadedSize         int64  `json:"uploadedSize"`
}

// FileDownloadMessage 账号级别的下载汇总
type FileDownloadMessage struct {
	TotalSize      int64 `json:"totalSize"`
	TotalCount     int64 `json:"totalCount"`
	DownloadedSize int64 `json:"downloadedSize"`
}

// FileStatusMessage 文件状态变化，缺省字段表示没有变化
type FileStatusMessage struct {
	FileID         int64               `json:"fileId"`
	UniqueID       string              `json:"uniqueId,omitempty"`
	DownloadStatus *api.DownloadStatus `json:"downloadStatus,omitempty"`
	TransferStatus *api.TransferStatus `json:"transferStatus,omitempty"`
	LocalPath      *string             `json:"localPath,omitempty"`
	CompletionDate *int64              `json:"completionDate,omitempty"`
	DownloadedSize *int64              `json:"downloadedSize,omitempty"`
}

func (m ErrorMessage) accept(env Envelope, h Handler)         { h.OnError(env, m) }
func (m AuthorizationMessage) accept(env Envelope, h Handler) { h.OnAuthorization(env, m) }
func (m MethodResultMessage) accept(env Envelope, h Handler)  { h.OnMethodResult(env, m) }
func (m FileUpdateMessage) accept(env Envelope, h Handler)    { h.OnFileUpdate(env, m) }
func (m FileDownloadMessage) accept(env Envelope, h Handler)  { h.OnFileDownload(env, m) }
func (m FileStatusMessage) accept(env Envelope, h Handler)    { h.OnFileStatus(env, m) }

// wireEnvelope 线上格式
type wireEnvelope struct {
	Type      int             `json:"type"`
	Code      *string         `json:"code"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Parse 解析一帧文本消息
func Parse(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := Envelope{
		Type:      Type(w.Type),
		Timestamp: w.Timestamp,
		Data:      w.Data,
	}
	if w.Code != nil {
		env.Code = *w.Code
	}

	msg, err := decodeMessage(env.Type, w.Data)
	if err != nil {
		return Envelope{}, err
	}
	env.Message = msg
	return env, nil
}

func decodeMessage(t Type, data json.RawMessage) (Message, error) {
	isNull := len(data) == 0 || string(data) == "null"

	switch t {
	case TypeError:
		var m ErrorMessage
		if !isNull {
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", t, err)
			}
		}
		return m, nil
	case TypeAuthorization:
		var m AuthorizationMessage
		if !isNull {
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", t, err)
			}
		}
		m.State = data
		return m, nil
	case TypeMethodResult:
		return MethodResultMessage{Result: data}, nil
	case TypeFileUpdate:
		var m FileUpdateMessage
		if isNull {
			return nil, fmt.Errorf("decode %s: missing data", t)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return m, nil
	case TypeFileDownloadAggregate:
		var m FileDownloadMessage
		if isNull {
			return nil, fmt.Errorf("decode %s: missing data", t)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return m, nil
	case TypeFileStatus:
		var m FileStatusMessage
		if isNull {
			return nil, fmt.Errorf("decode %s: missing data", t)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
}

// Encode 序列化为线上格式，用于发送
func Encode(env Envelope) ([]byte, error) {
	w := wireEnvelope{
		Type:      int(env.Type),
		Data:      env.Data,
		Timestamp: env.Timestamp,
	}
	if env.Code != "" {
		code := env.Code
		w.Code = &code
	}
	if len(w.Data) == 0 {
		w.Data = json.RawMessage("null")
	}
	return json.Marshal(w)
}
