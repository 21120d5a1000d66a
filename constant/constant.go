package constant

import "time"

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "PENDING"
	VideoStatusUploading  VideoStatus = "UPLOADING"
	VideoStatusUploaded   VideoStatus = "UPLOADED"
	VideoStatusProcessing VideoStatus = "PROCESSING"
	VideoStatusReady      VideoStatus = "READY"
	VideoStatusFailed     VideoStatus = "FAILED"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	// DefaultPartSize is the part size used for new upload sessions.
	DefaultPartSize int64 = 10 * 1024 * 1024
	// MinPartSize is the storage backend's minimum part size, except for the final part.
	MinPartSize int64 = 5 * 1024 * 1024
	// SessionRetention matches the storage backend's part-retention limit.
	SessionRetention = 7 * 24 * time.Hour
	// PartURLTTL is the lifetime of a presigned per-part upload URL.
	PartURLTTL = 15 * time.Minute
	// MaxDeleteBatch is the storage backend's limit on keys per bulk delete.
	MaxDeleteBatch = 1000
)

// AllowedMimeTypes lists the video formats accepted at upload initiation.
var AllowedMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-matroska": true,
}
