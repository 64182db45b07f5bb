package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/utils"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op        string
	sessionID string
	ownerID   string
	index     int
	data      string
	size      int64
}

type fakeManager struct {
	calls []call
	err   error
}

func (f *fakeManager) InitUpload(ctx context.Context, ownerID, fileName string, fileSize int64) (*models.UploadInitResponse, error) {
	f.calls = append(f.calls, call{op: "init", ownerID: ownerID, data: fileName, size: fileSize})
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadInitResponse{SessionID: "s1", ChunkSize: 4, TotalChunks: 3}, nil
}

func (f *fakeManager) UploadChunk(ctx context.Context, sessionID, ownerID string, index int, data io.Reader, size int64) (*models.UploadChunkResponse, error) {
	b, _ := io.ReadAll(data)
	f.calls = append(f.calls, call{op: "chunk", sessionID: sessionID, ownerID: ownerID, index: index, data: string(b), size: size})
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadChunkResponse{Accepted: true, UploadedChunks: 1, TotalChunks: 3}, nil
}

func (f *fakeManager) CompleteUpload(ctx context.Context, sessionID, ownerID string) (*models.UploadCompleteResponse, error) {
	f.calls = append(f.calls, call{op: "complete", sessionID: sessionID, ownerID: ownerID})
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadCompleteResponse{SessionID: sessionID, FileID: "f", FileURL: "u"}, nil
}

func (f *fakeManager) GetStatus(ctx context.Context, sessionID, ownerID string) (*models.UploadStatusResponse, error) {
	f.calls = append(f.calls, call{op: "status", sessionID: sessionID, ownerID: ownerID})
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadStatusResponse{SessionID: sessionID, Status: models.StatusInProgress, UploadedChunkIndices: []int{0, 2}}, nil
}

func (f *fakeManager) CancelUpload(ctx context.Context, sessionID, ownerID string) error {
	f.calls = append(f.calls, call{op: "cancel", sessionID: sessionID, ownerID: ownerID})
	return f.err
}

func (f *fakeManager) Evict(sessionIDs ...string) {}

func newTestRouter(mgr *fakeManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewUploadHandler(mgr)
	r := gin.New()
	r.POST("/uploads/init", h.InitUpload)
	r.POST("/uploads/:id/chunk", h.UploadChunk)
	r.POST("/uploads/:id/complete", h.CompleteUpload)
	r.GET("/uploads/:id/status", h.GetStatus)
	r.DELETE("/uploads/:id", h.CancelUpload)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func chunkRequest(t *testing.T, target string, fields map[string]string, content string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != "" {
		part, err := mw.CreateFormFile("chunk", "blob")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestInitUploadHandler(t *testing.T) {
	mgr := &fakeManager{}
	r := newTestRouter(mgr)

	req := httptest.NewRequest(http.MethodPost, "/uploads/init", strings.NewReader(`{"fileName":"a.bin","fileSize":10,"ownerId":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Code int                       `json:"code"`
		Data models.UploadInitResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, xerr.SuccessCode, resp.Code)
	assert.Equal(t, "s1", resp.Data.SessionID)
	assert.Equal(t, call{op: "init", ownerID: "alice", data: "a.bin", size: 10}, mgr.calls[0])

	req = httptest.NewRequest(http.MethodPost, "/uploads/init", strings.NewReader(`{"fileName":`))
	w = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, mgr.calls, 1)
}

func TestUploadChunkHandler(t *testing.T) {
	mgr := &fakeManager{}
	r := newTestRouter(mgr)

	w := serve(r, chunkRequest(t, "/uploads/s1/chunk", map[string]string{"chunkIndex": "2", "ownerId": "alice"}, "abcd"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, call{op: "chunk", sessionID: "s1", ownerID: "alice", index: 2, data: "abcd", size: 4}, mgr.calls[0])

	w = serve(r, chunkRequest(t, "/uploads/s1/chunk", map[string]string{"chunkIndex": "x"}, "abcd"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, chunkRequest(t, "/uploads/s1/chunk", map[string]string{"chunkIndex": "0"}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, mgr.calls, 1)
}

func TestOwnerFromHeaderAndQuery(t *testing.T) {
	mgr := &fakeManager{}
	r := newTestRouter(mgr)

	req := httptest.NewRequest(http.MethodPost, "/uploads/s1/complete", nil)
	req.Header.Set(utils.OwnerHeader, "bob")
	require.Equal(t, http.StatusOK, serve(r, req).Code)

	require.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/uploads/s1/status?ownerId=carol", nil)).Code)
	require.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodDelete, "/uploads/s1?ownerId=dave", nil)).Code)

	assert.Equal(t, []call{
		{op: "complete", sessionID: "s1", ownerID: "bob"},
		{op: "status", sessionID: "s1", ownerID: "carol"},
		{op: "cancel", sessionID: "s1", ownerID: "dave"},
	}, mgr.calls)
}

func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
		name   string
	}{
		{xerr.InvalidArgument("fileSize must be positive"), http.StatusBadRequest, xerr.InvalidParamsCode, "invalid_argument"},
		{fmt.Errorf("chunk 9: %w", xerr.ErrChunkIndexOutOfRange), http.StatusBadRequest, xerr.ChunkIndexInvalidCode, "invalid_argument"},
		{xerr.ErrUnauthorized, http.StatusForbidden, xerr.PermissionDeniedCode, "unauthorized"},
		{fmt.Errorf("session s1: %w", xerr.ErrNotFound), http.StatusNotFound, xerr.UploadSessionNotFoundCode, "not_found"},
		{xerr.ErrUploadIncomplete, http.StatusConflict, xerr.UploadIncompleteCode, "failed_precondition"},
		{xerr.ErrDataCorruption, http.StatusConflict, xerr.ChunkCorruptedCode, "data_corruption"},
		{xerr.Unavailable("put blob", io.ErrUnexpectedEOF), http.StatusServiceUnavailable, xerr.UnavailableCode, "unavailable"},
		{io.ErrClosedPipe, http.StatusInternalServerError, xerr.InternalServerErrorCode, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeManager{err: tc.err})
			w := serve(r, httptest.NewRequest(http.MethodGet, "/uploads/s1/status?ownerId=alice", nil))
			assert.Equal(t, tc.status, w.Code)

			var resp xerr.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			assert.Equal(t, tc.name, resp.Error)
		})
	}
}
