package dto

import (
	"time"

	"github.com/google/uuid"
)

type InitUploadRequest struct {
	TotalBytes int64  `json:"totalBytes" binding:"required,min=1"`
	MimeType   string `json:"mimeType" binding:"required"`
}

type InitUploadResponse struct {
	SessionId       uuid.UUID `json:"sessionId"`
	StorageUploadId string    `json:"storageUploadId"`
	StorageKey      string    `json:"storageKey"`
	PartSize        int64     `json:"partSize"`
	TotalParts      int       `json:"totalParts"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type SignPartRequest struct {
	PartNumber int `json:"partNumber" binding:"required,min=1"`
}

type SignPartResponse struct {
	PartNumber int       `json:"partNumber"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type RecordPartRequest struct {
	PartNumber int    `json:"partNumber" binding:"required,min=1"`
	ETag       string `json:"etag" binding:"required"`
}

type RecordPartResponse struct {
	CompletedParts int   `json:"completedParts"`
	TotalParts     int   `json:"totalParts"`
	UploadedBytes  int64 `json:"uploadedBytes"`
	TotalBytes     int64 `json:"totalBytes"`
}

type CompleteUploadResponse struct {
	StorageKey string    `json:"storageKey"`
	JobId      uuid.UUID `json:"jobId"`
}

type UploadStatusResponse struct {
	Active               bool      `json:"active"`
	Expired              bool      `json:"expired,omitempty"`
	PartSize             int64     `json:"partSize,omitempty"`
	TotalParts           int       `json:"totalParts,omitempty"`
	CompletedPartNumbers []int     `json:"completedPartNumbers,omitempty"`
	UploadedBytes        int64     `json:"uploadedBytes,omitempty"`
	TotalBytes           int64     `json:"totalBytes,omitempty"`
	ExpiresAt            time.Time `json:"expiresAt,omitzero"`
}

// ProcessVideoMessage is the work item handed off to the downstream
// processing pipeline after a completed upload.
type ProcessVideoMessage struct {
	JobId      uuid.UUID `json:"jobId"`
	VideoId    uuid.UUID `json:"videoId"`
	ObjectPath string    `json:"objectPath"`
}
