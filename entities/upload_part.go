package entities

import (
	"time"

	"github.com/google/uuid"
)

// UploadPart is one recorded part of an upload session. The unique index on
// (session_id, part_number) makes recording a part an insert-or-ignore:
// concurrent or retried records of the same part cannot create duplicates.
type UploadPart struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SessionId  uuid.UUID `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:unique_upload_parts_session_part"`
	PartNumber int       `json:"part_number" gorm:"not null;uniqueIndex:unique_upload_parts_session_part"`
	ETag       string    `json:"etag" gorm:"type:varchar(500);not null"`
	SizeBytes  int64     `json:"size_bytes" gorm:"type:bigint;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (UploadPart) TableName() string {
	return "upload_parts"
}
