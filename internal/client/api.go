package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/utils"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
)

// API 上传服务的远程接口
type API interface {
	Init(ctx context.Context, ownerID, fileName string, fileSize int64) (*models.UploadInitResponse, error)
	UploadChunk(ctx context.Context, sessionID, ownerID string, index int, data []byte) (*models.UploadChunkResponse, error)
	Complete(ctx context.Context, sessionID, ownerID string) (*models.UploadCompleteResponse, error)
	Status(ctx context.Context, sessionID, ownerID string) (*models.UploadStatusResponse, error)
	Cancel(ctx context.Context, sessionID, ownerID string) error
}

// APIError 非 2xx 响应, 可用 errors.Is 匹配 xerr 中的错误分类
type APIError struct {
	StatusCode int
	Code       int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upload api: %d %s: %s", e.StatusCode, e.Name, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Name {
	case "invalid_argument":
		return xerr.ErrInvalidArgument
	case "unauthorized", "unauthenticated":
		return xerr.ErrUnauthorized
	case "not_found":
		return xerr.ErrNotFound
	case "failed_precondition":
		return xerr.ErrFailedPrecondition
	case "data_corruption":
		return xerr.ErrDataCorruption
	case "unavailable", "rate_limited":
		return xerr.ErrUnavailable
	default:
		return nil
	}
}

// HTTPClient 通过 /api/v1/uploads 访问上传服务
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   string
}

var _ API = (*HTTPClient)(nil)

type ClientOption func(*HTTPClient)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithToken 以 Bearer Token 认证
func WithToken(token string) ClientOption {
	return func(h *HTTPClient) { h.token = token }
}

func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1/uploads",
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Init(ctx context.Context, ownerID, fileName string, fileSize int64) (*models.UploadInitResponse, error) {
	body, err := json.Marshal(models.UploadInitRequest{FileName: fileName, FileSize: fileSize, OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	var out models.UploadInitResponse
	if err := c.do(ctx, http.MethodPost, "/init", ownerID, "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UploadChunk(ctx context.Context, sessionID, ownerID string, index int, data []byte) (*models.UploadChunkResponse, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return nil, err
	}
	if err := mw.WriteField("ownerId", ownerID); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("chunk", fmt.Sprintf("%s_%d", sessionID, index))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out models.UploadChunkResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(sessionID)+"/chunk", ownerID, mw.FormDataContentType(), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Complete(ctx context.Context, sessionID, ownerID string) (*models.UploadCompleteResponse, error) {
	body, err := json.Marshal(models.UploadCompleteRequest{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	var out models.UploadCompleteResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(sessionID)+"/complete", ownerID, "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Status(ctx context.Context, sessionID, ownerID string) (*models.UploadStatusResponse, error) {
	var out models.UploadStatusResponse
	path := "/" + url.PathEscape(sessionID) + "/status?ownerId=" + url.QueryEscape(ownerID)
	if err := c.do(ctx, http.MethodGet, path, ownerID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, sessionID, ownerID string) error {
	path := "/" + url.PathEscape(sessionID) + "?ownerId=" + url.QueryEscape(ownerID)
	return c.do(ctx, http.MethodDelete, path, ownerID, "", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, ownerID, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ownerID != "" {
		req.Header.Set(utils.OwnerHeader, ownerID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env xerr.ErrorResponse
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Code, apiErr.Name, apiErr.Message = env.Code, env.Error, env.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errors.New("decode response: empty data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
