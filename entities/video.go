package entities

import (
	"time"

	"github.com/google/uuid"
	"upload-coordinator/constant"
)

type Video struct {
	ID             uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrganizationId uuid.UUID            `json:"organization_id" gorm:"type:uuid;not null;index:idx_videos_organization_id"`
	Title          string               `json:"title" gorm:"type:varchar(255)"`
	MimeType       string               `json:"mime_type" gorm:"type:varchar(100)"`
	Status         constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_videos_status"`
	StorageKey     *string              `json:"storage_key" gorm:"type:varchar(500)"`
	SizeBytes      int64                `json:"size_bytes" gorm:"type:bigint"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}

// Uploadable reports whether a new upload session may be initiated for the video.
func (v *Video) Uploadable() bool {
	return v.Status == constant.VideoStatusPending || v.Status == constant.VideoStatusFailed
}
