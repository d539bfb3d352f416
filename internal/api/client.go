package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tgfiles/internal/filter"

	"github.com/google/uuid"
)

// InitialCursor 首页请求使用的游标，不会作为 fromCursor 参数发送
const InitialCursor int64 = 0

// Options 初始化参数
type Options struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient 为空时按 Timeout 创建
	HTTPClient *http.Client
}

// Client telegram-files 后端 HTTP 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// ListFiles 拉取一页文件记录
// cursor 为 InitialCursor 时请求第一页
func (c *Client) ListFiles(ctx context.Context, account, chat string, f filter.Filter, cursor int64) (*FilePage, error) {
	params := url.Values{}
	params.Set("search", f.Search)
	params.Set("type", f.Type)
	params.Set("status", f.Status)
	if cursor != InitialCursor {
		params.Set("fromCursor", strconv.FormatInt(cursor, 10))
	}

	path := fmt.Sprintf("/telegram/%s/chat/%s/files", url.PathEscape(account), url.PathEscape(chat))

	var page FilePage
	ok, err := c.request(ctx, http.MethodGet, path, params, nil, &page)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MalformedResponseError{StatusCode: http.StatusOK, Body: "", Err: errors.New("empty file page")}
	}
	return &page, nil
}

// StartDownload 开始下载
func (c *Client) StartDownload(ctx context.Context, req StartDownloadRequest) error {
	_, err := c.request(ctx, http.MethodPost, "/file/start-download", nil, req, nil)
	return err
}

// StartDownloadMultiple 批量开始下载
func (c *Client) StartDownloadMultiple(ctx context.Context, files []StartDownloadRequest) error {
	_, err := c.request(ctx, http.MethodPost, "/file/start-download-multiple", nil,
		StartDownloadMultipleRequest{Files: files}, nil)
	return err
}

// CancelDownload 取消下载
func (c *Client) CancelDownload(ctx context.Context, fileID int64) error {
	_, err := c.request(ctx, http.MethodPost, "/file/cancel-download", nil, FileIDRequest{FileID: fileID}, nil)
	return err
}

// TogglePauseDownload 暂停 (isPaused=true) 或恢复下载
func (c *Client) TogglePauseDownload(ctx context.Context, fileID int64, isPaused bool) error {
	_, err := c.request(ctx, http.MethodPost, "/file/toggle-pause-download", nil,
		TogglePauseRequest{FileID: fileID, IsPaused: isPaused}, nil)
	return err
}

// RemoveFile 删除已下载的本地文件
func (c *Client) RemoveFile(ctx context.Context, fileID int64) error {
	_, err := c.request(ctx, http.MethodPost, "/file/remove", nil, FileIDRequest{FileID: fileID}, nil)
	return err
}

// InvokeMethod 透传调用远端方法，立即返回关联码
// 真正的结果稍后通过长连接以 MethodResult 推送
func (c *Client) InvokeMethod(ctx context.Context, method string, data any) (string, error) {
	if strings.TrimSpace(method) == "" {
		return "", errors.New("method is required")
	}

	var result MethodResult
	ok, err := c.request(ctx, http.MethodPost, "/telegram/api/"+url.PathEscape(method), nil, data, &result)
	if err != nil {
		return "", err
	}
	if !ok || result.Code == "" {
		return "", &MalformedResponseError{StatusCode: http.StatusOK, Err: errors.New("missing method code")}
	}
	return result.Code, nil
}

// request 通用请求封装
// 返回值 ok 表示响应体非空并已解码到 out
func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, out any) (bool, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &TransportError{Op: "read " + path, Err: err}
	}

	slog.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"elapsed", time.Since(start),
	)

	return decodeResponse(resp.StatusCode, raw, out)
}

// decodeResponse 按错误分类解析响应
// 1. 空响应体: 成功则视为无数据，失败则为 RequestError
// 2. 非 JSON: MalformedResponseError (保留原文)
// 3. 非 2xx 或带 error 字段: RequestError
func decodeResponse(status int, raw []byte, out any) (bool, error) {
	success := status >= 200 && status < 300
	text := strings.TrimSpace(string(raw))

	if text == "" {
		if !success {
			return false, &RequestError{StatusCode: status, Message: http.StatusText(status)}
		}
		return false, nil
	}

	if !json.Valid(raw) {
		return false, &MalformedResponseError{StatusCode: status, Body: text}
	}

	var errResp errorPayload
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		return false, &RequestError{StatusCode: status, Message: errResp.Error}
	}
	if !success {
		return false, &RequestError{StatusCode: status, Message: text}
	}

	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &MalformedResponseError{StatusCode: status, Body: text, Err: err}
	}
	return true, nil
}
