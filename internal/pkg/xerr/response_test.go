package xerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"invalid", InvalidArgument("fileSize must be positive"), http.StatusBadRequest, InvalidParamsCode},
		{"index", fmt.Errorf("chunk 9: %w", ErrChunkIndexOutOfRange), http.StatusBadRequest, ChunkIndexInvalidCode},
		{"owner", ErrUnauthorized, http.StatusForbidden, PermissionDeniedCode},
		{"missing", fmt.Errorf("load: %w", ErrNotFound), http.StatusNotFound, UploadSessionNotFoundCode},
		{"incomplete", ErrUploadIncomplete, http.StatusConflict, UploadIncompleteCode},
		{"finalized", ErrUploadFinalized, http.StatusConflict, UploadFinalizedCode},
		{"corrupt", fmt.Errorf("%w: gap", ErrDataCorruption), http.StatusConflict, ChunkCorruptedCode},
		{"unavailable", Unavailable("put chunk", errors.New("dial tcp")), http.StatusServiceUnavailable, UnavailableCode},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, InternalServerErrorCode},
		{"code error", NewCodeError(TokenInvalidCode, ErrUnauthorized), http.StatusForbidden, TokenInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolve(tt.err)
			assert.Equal(t, tt.status, r.HTTPStatus)
			assert.Equal(t, tt.code, r.Code)
		})
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("update session", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Unavailable("noop", nil))
}

func TestFromError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	FromError(c, fmt.Errorf("get status: %w", ErrNotFound))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, c.IsAborted())
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
	assert.Equal(t, UploadSessionNotFoundCode, body.Code)
	assert.Contains(t, body.Message, "not found")
}

func TestFromErrorHidesServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{Unavailable("put chunk", errors.New("dial tcp 10.0.0.5:9000: connection refused")), http.StatusServiceUnavailable, "service temporarily unavailable"},
		{errors.New("Error 1045: Access denied for user 'root'"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		FromError(c, tt.err)

		assert.Equal(t, tt.status, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.message, body.Message)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
		assert.NotContains(t, w.Body.String(), "root")
	}
}
