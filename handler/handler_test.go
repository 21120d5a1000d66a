package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"upload-coordinator/dto"
	"upload-coordinator/service"
)

type stubService struct {
	initErr    error
	recordErr  error
	statusResp *dto.UploadStatusResponse
}

func (s *stubService) Init(ctx context.Context, videoId uuid.UUID, req dto.InitUploadRequest) (*dto.InitUploadResponse, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &dto.InitUploadResponse{SessionId: uuid.New(), PartSize: 10 * 1024 * 1024, TotalParts: 3}, nil
}

func (s *stubService) SignPart(ctx context.Context, videoId uuid.UUID, partNumber int) (*dto.SignPartResponse, error) {
	return &dto.SignPartResponse{PartNumber: partNumber, URL: "https://storage.test/part"}, nil
}

func (s *stubService) RecordPart(ctx context.Context, videoId uuid.UUID, partNumber int, etag string) (*dto.RecordPartResponse, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	return &dto.RecordPartResponse{CompletedParts: 1, TotalParts: 3}, nil
}

func (s *stubService) Complete(ctx context.Context, videoId uuid.UUID) (*dto.CompleteUploadResponse, error) {
	return &dto.CompleteUploadResponse{StorageKey: "videos/key", JobId: uuid.New()}, nil
}

func (s *stubService) Abort(ctx context.Context, videoId uuid.UUID) error {
	return nil
}

func (s *stubService) Status(ctx context.Context, videoId uuid.UUID) (*dto.UploadStatusResponse, error) {
	if s.statusResp != nil {
		return s.statusResp, nil
	}
	return &dto.UploadStatusResponse{Active: false}, nil
}

func (s *stubService) CleanupVideoObjects(ctx context.Context, videoId uuid.UUID) error {
	return nil
}

func newTestRouter(svc service.UploadService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewUploadHandler(svc).Register(r)
	return r
}

func uploadPath(videoId uuid.UUID, op string) string {
	return fmt.Sprintf("/organizations/%s/videos/%s/upload/%s", uuid.New(), videoId, op)
}

func TestInitEndpoint(t *testing.T) {
	r := newTestRouter(&stubService{})

	body := `{"totalBytes": 23068672, "mimeType": "video/mp4"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, uploadPath(uuid.New(), "init"), strings.NewReader(body))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.InitUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalParts)
}

func TestInitRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(&stubService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, uploadPath(uuid.New(), "init"), strings.NewReader(`{"totalBytes": 0}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidVideoIdRejected(t *testing.T) {
	r := newTestRouter(&stubService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/organizations/%s/videos/not-a-uuid/upload/status", uuid.New()), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", service.ErrSessionNotFound, http.StatusNotFound},
		{"expired", service.ErrSessionExpired, http.StatusGone},
		{"bad part number", service.ErrInvalidPartNumber, http.StatusBadRequest},
		{"transient", fmt.Errorf("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubService{recordErr: tt.err})

			body := `{"partNumber": 1, "etag": "etag-1"}`
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, uploadPath(uuid.New(), "complete-part"), strings.NewReader(body))
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	r := newTestRouter(&stubService{statusResp: &dto.UploadStatusResponse{
		Active:               true,
		TotalParts:           3,
		CompletedPartNumbers: []int{1, 3},
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, uploadPath(uuid.New(), "status"), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.UploadStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, []int{1, 3}, resp.CompletedPartNumbers)
}
