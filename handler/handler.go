package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"upload-coordinator/dto"
	"upload-coordinator/service"
)

type UploadHandler struct {
	uploads service.UploadService
}

func NewUploadHandler(uploads service.UploadService) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
	}
}

func (h *UploadHandler) Register(r *gin.Engine) {
	upload := r.Group("/organizations/:orgId/videos/:videoId/upload")
	upload.POST("/init", h.Init)
	upload.POST("/sign-part", h.SignPart)
	upload.POST("/complete-part", h.RecordPart)
	upload.POST("/complete", h.Complete)
	upload.POST("/abort", h.Abort)
	upload.GET("/status", h.Status)

	r.DELETE("/organizations/:orgId/videos/:videoId/storage", h.Cleanup)
}

func (h *UploadHandler) Init(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	var req dto.InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.uploads.Init(c.Request.Context(), videoId, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) SignPart(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	var req dto.SignPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.uploads.SignPart(c.Request.Context(), videoId, req.PartNumber)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) RecordPart(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	var req dto.RecordPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.uploads.RecordPart(c.Request.Context(), videoId, req.PartNumber, req.ETag)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) Complete(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	resp, err := h.uploads.Complete(c.Request.Context(), videoId)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) Abort(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	if err := h.uploads.Abort(c.Request.Context(), videoId); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

func (h *UploadHandler) Status(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	resp, err := h.uploads.Status(c.Request.Context(), videoId)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) Cleanup(c *gin.Context) {
	videoId, ok := videoIdParam(c)
	if !ok {
		return
	}

	if err := h.uploads.CleanupVideoObjects(c.Request.Context(), videoId); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleaned": true})
}

func videoIdParam(c *gin.Context) (uuid.UUID, bool) {
	videoId, err := uuid.Parse(c.Param("videoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return uuid.Nil, false
	}
	return videoId, true
}

// writeError maps the service error taxonomy onto HTTP statuses: validation
// failures are 4xx and must not be retried, Gone tells the client to
// reinitialize, and anything unclassified is a retryable 503.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnsupportedMimeType),
		errors.Is(err, service.ErrInvalidPartNumber),
		errors.Is(err, service.ErrVideoNotUploadable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVideoNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrIncompleteUpload):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("upload operation failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable", "retryable": true})
	}
}
