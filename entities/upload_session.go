package entities

import (
	"time"

	"github.com/google/uuid"
)

// UploadSession tracks one video's in-progress multipart upload. At most one
// session exists per video; the row is deleted on complete or abort.
type UploadSession struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	VideoId         uuid.UUID `json:"video_id" gorm:"type:uuid;not null;uniqueIndex:unique_upload_sessions_video_id"`
	StorageUploadId string    `json:"storage_upload_id" gorm:"type:varchar(500);not null"`
	StorageKey      string    `json:"storage_key" gorm:"type:varchar(500);not null"`
	PartSize        int64     `json:"part_size" gorm:"type:bigint;not null"`
	TotalParts      int       `json:"total_parts" gorm:"not null"`
	TotalBytes      int64     `json:"total_bytes" gorm:"type:bigint;not null"`
	ExpiresAt       time.Time `json:"expires_at" gorm:"type:timestamptz;not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (UploadSession) TableName() string {
	return "upload_sessions"
}

func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// PartByteSize returns the byte size of the given part. Every part is
// PartSize bytes except the last, which holds the remainder.
func (s *UploadSession) PartByteSize(partNumber int) int64 {
	if partNumber == s.TotalParts {
		return s.TotalBytes - int64(s.TotalParts-1)*s.PartSize
	}
	return s.PartSize
}
