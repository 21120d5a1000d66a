package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"upload-coordinator/cache"
	"upload-coordinator/constant"
	"upload-coordinator/dto"
	"upload-coordinator/entities"
	"upload-coordinator/pkg/rabbitmq"
	"upload-coordinator/repository"
	"upload-coordinator/storage"
)

var (
	ErrVideoNotFound       = errors.New("video not found")
	ErrVideoNotUploadable  = errors.New("video is not in an uploadable state")
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
	ErrSessionNotFound     = errors.New("no active upload session")
	ErrSessionExpired      = errors.New("upload session expired")
	ErrInvalidPartNumber   = errors.New("part number out of range")
	ErrIncompleteUpload    = errors.New("upload incomplete")
)

type UploadService interface {
	Init(ctx context.Context, videoId uuid.UUID, req dto.InitUploadRequest) (*dto.InitUploadResponse, error)
	SignPart(ctx context.Context, videoId uuid.UUID, partNumber int) (*dto.SignPartResponse, error)
	RecordPart(ctx context.Context, videoId uuid.UUID, partNumber int, etag string) (*dto.RecordPartResponse, error)
	Complete(ctx context.Context, videoId uuid.UUID) (*dto.CompleteUploadResponse, error)
	Abort(ctx context.Context, videoId uuid.UUID) error
	Status(ctx context.Context, videoId uuid.UUID) (*dto.UploadStatusResponse, error)
	CleanupVideoObjects(ctx context.Context, videoId uuid.UUID) error
}

type uploadService struct {
	repo        repository.SessionRepository
	gateway     storage.Gateway
	publisher   rabbitmq.Publisher
	statusCache *cache.StatusCache
}

func NewUploadService(repo repository.SessionRepository, gateway storage.Gateway, publisher rabbitmq.Publisher, statusCache *cache.StatusCache) UploadService {
	return &uploadService{
		repo:        repo,
		gateway:     gateway,
		publisher:   publisher,
		statusCache: statusCache,
	}
}

var mimeExtensions = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/x-matroska": "mkv",
}

func objectKey(videoId uuid.UUID, mimeType string) string {
	return fmt.Sprintf("videos/%s/original.%s", videoId, mimeExtensions[mimeType])
}

func (s *uploadService) Init(ctx context.Context, videoId uuid.UUID, req dto.InitUploadRequest) (*dto.InitUploadResponse, error) {
	video, err := s.repo.FindVideoById(ctx, videoId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}

	// UPLOADING is accepted here so a stale session can be replaced.
	if !video.Uploadable() && video.Status != constant.VideoStatusUploading {
		return nil, ErrVideoNotUploadable
	}

	if !constant.AllowedMimeTypes[req.MimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMimeType, req.MimeType)
	}

	// A new session must not leave a previous multipart upload live.
	if existing, err := s.repo.FindSessionByVideoId(ctx, videoId); err == nil {
		zerolog.Ctx(ctx).Info().
			Str("video_id", videoId.String()).
			Str("session_id", existing.ID.String()).
			Msg("replacing existing upload session")
		if abortErr := s.gateway.AbortMultipartUpload(ctx, existing.StorageKey, existing.StorageUploadId); abortErr != nil {
			zerolog.Ctx(ctx).Warn().Err(abortErr).Str("session_id", existing.ID.String()).Msg("failed to abort previous multipart upload")
		}
		if deleteErr := s.repo.DeleteSession(ctx, existing.ID); deleteErr != nil {
			return nil, deleteErr
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	partSize := constant.DefaultPartSize
	if partSize < constant.MinPartSize {
		partSize = constant.MinPartSize
	}
	totalParts := int((req.TotalBytes + partSize - 1) / partSize)

	key := objectKey(videoId, req.MimeType)
	uploadId, err := s.gateway.CreateMultipartUpload(ctx, key, req.MimeType)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoId.String()).Msg("failed to create multipart upload")
		return nil, err
	}

	session := &entities.UploadSession{
		ID:              uuid.New(),
		VideoId:         videoId,
		StorageUploadId: uploadId,
		StorageKey:      key,
		PartSize:        partSize,
		TotalParts:      totalParts,
		TotalBytes:      req.TotalBytes,
		ExpiresAt:       time.Now().Add(constant.SessionRetention),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoId.String()).Msg("failed to persist upload session")
		if abortErr := s.gateway.AbortMultipartUpload(ctx, key, uploadId); abortErr != nil {
			zerolog.Ctx(ctx).Warn().Err(abortErr).Msg("failed to abort orphaned multipart upload")
		}
		return nil, err
	}

	if err := s.repo.UpdateVideoStatus(ctx, videoId, constant.VideoStatusUploading); err != nil {
		return nil, err
	}
	s.statusCache.Invalidate(ctx, videoId)

	zerolog.Ctx(ctx).Info().
		Str("video_id", videoId.String()).
		Str("session_id", session.ID.String()).
		Int("total_parts", totalParts).
		Int64("total_bytes", req.TotalBytes).
		Msg("upload session initiated")

	return &dto.InitUploadResponse{
		SessionId:       session.ID,
		StorageUploadId: uploadId,
		StorageKey:      key,
		PartSize:        partSize,
		TotalParts:      totalParts,
		ExpiresAt:       session.ExpiresAt,
	}, nil
}

func (s *uploadService) SignPart(ctx context.Context, videoId uuid.UUID, partNumber int) (*dto.SignPartResponse, error) {
	session, err := s.activeSession(ctx, videoId)
	if err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > session.TotalParts {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPartNumber, partNumber, session.TotalParts)
	}

	signedURL, err := s.gateway.PresignUploadPart(ctx, session.StorageKey, session.StorageUploadId, partNumber, constant.PartURLTTL)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("part_number", partNumber).Msg("failed to presign part upload")
		return nil, err
	}

	return &dto.SignPartResponse{
		PartNumber: partNumber,
		URL:        signedURL,
		ExpiresAt:  time.Now().Add(constant.PartURLTTL),
	}, nil
}

func (s *uploadService) RecordPart(ctx context.Context, videoId uuid.UUID, partNumber int, etag string) (*dto.RecordPartResponse, error) {
	session, err := s.activeSession(ctx, videoId)
	if err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > session.TotalParts {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPartNumber, partNumber, session.TotalParts)
	}

	part := &entities.UploadPart{
		ID:         uuid.New(),
		SessionId:  session.ID,
		PartNumber: partNumber,
		ETag:       etag,
		SizeBytes:  session.PartByteSize(partNumber),
	}
	inserted, err := s.repo.InsertPart(ctx, part)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("part_number", partNumber).Msg("failed to record part")
		return nil, err
	}
	if !inserted {
		zerolog.Ctx(ctx).Debug().
			Str("session_id", session.ID.String()).
			Int("part_number", partNumber).
			Msg("part already recorded")
	}
	s.statusCache.Invalidate(ctx, videoId)

	parts, err := s.repo.ListParts(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	var uploadedBytes int64
	for _, p := range parts {
		uploadedBytes += p.SizeBytes
	}

	return &dto.RecordPartResponse{
		CompletedParts: len(parts),
		TotalParts:     session.TotalParts,
		UploadedBytes:  uploadedBytes,
		TotalBytes:     session.TotalBytes,
	}, nil
}

func (s *uploadService) Complete(ctx context.Context, videoId uuid.UUID) (*dto.CompleteUploadResponse, error) {
	session, err := s.activeSession(ctx, videoId)
	if err != nil {
		return nil, err
	}

	parts, err := s.repo.ListParts(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(parts) != session.TotalParts {
		return nil, fmt.Errorf("%w: %d of %d parts recorded", ErrIncompleteUpload, len(parts), session.TotalParts)
	}

	// The storage backend requires the manifest in strictly increasing part
	// order regardless of the order parts were recorded in.
	manifest := make([]storage.CompletedPart, len(parts))
	for i, p := range parts {
		manifest[i] = storage.CompletedPart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		}
	}
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].PartNumber < manifest[j].PartNumber
	})

	if err := s.gateway.CompleteMultipartUpload(ctx, session.StorageKey, session.StorageUploadId, manifest); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to complete multipart upload")
		return nil, err
	}

	if err := s.repo.MarkVideoUploaded(ctx, videoId, session.StorageKey); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
		return nil, err
	}
	s.statusCache.Invalidate(ctx, videoId)

	// Fire-and-forget handoff: a publish failure must not fail the upload.
	jobId := uuid.New()
	if s.publisher != nil {
		message := dto.ProcessVideoMessage{
			JobId:      jobId,
			VideoId:    videoId,
			ObjectPath: session.StorageKey,
		}
		if err := s.publisher.PublishProcessVideo(ctx, message); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoId.String()).Msg("failed to enqueue processing job")
		}
	}

	zerolog.Ctx(ctx).Info().
		Str("video_id", videoId.String()).
		Str("storage_key", session.StorageKey).
		Msg("upload completed")

	return &dto.CompleteUploadResponse{
		StorageKey: session.StorageKey,
		JobId:      jobId,
	}, nil
}

func (s *uploadService) Abort(ctx context.Context, videoId uuid.UUID) error {
	session, err := s.repo.FindSessionByVideoId(ctx, videoId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Nothing to tear down; aborting twice is fine.
			return nil
		}
		return err
	}

	if abortErr := s.gateway.AbortMultipartUpload(ctx, session.StorageKey, session.StorageUploadId); abortErr != nil {
		zerolog.Ctx(ctx).Warn().Err(abortErr).Str("session_id", session.ID.String()).Msg("failed to abort multipart upload")
	}
	if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
		return err
	}
	if err := s.repo.UpdateVideoStatus(ctx, videoId, constant.VideoStatusPending); err != nil {
		return err
	}
	s.statusCache.Invalidate(ctx, videoId)

	zerolog.Ctx(ctx).Info().Str("video_id", videoId.String()).Msg("upload aborted")

	return nil
}

func (s *uploadService) Status(ctx context.Context, videoId uuid.UUID) (*dto.UploadStatusResponse, error) {
	if status, ok := s.statusCache.Get(ctx, videoId); ok {
		return status, nil
	}

	session, err := s.repo.FindSessionByVideoId(ctx, videoId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			status := &dto.UploadStatusResponse{Active: false}
			s.statusCache.Set(ctx, videoId, status)
			return status, nil
		}
		return nil, err
	}

	parts, err := s.repo.ListParts(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	partNumbers := make([]int, len(parts))
	var uploadedBytes int64
	for i, p := range parts {
		partNumbers[i] = p.PartNumber
		uploadedBytes += p.SizeBytes
	}
	sort.Ints(partNumbers)

	status := &dto.UploadStatusResponse{
		Active:               true,
		Expired:              session.Expired(time.Now()),
		PartSize:             session.PartSize,
		TotalParts:           session.TotalParts,
		CompletedPartNumbers: partNumbers,
		UploadedBytes:        uploadedBytes,
		TotalBytes:           session.TotalBytes,
		ExpiresAt:            session.ExpiresAt,
	}
	s.statusCache.Set(ctx, videoId, status)

	return status, nil
}

// CleanupVideoObjects removes every stored object belonging to a video. Used
// when the owning video record is deleted; best-effort by design of the
// gateway, so a partial failure never blocks the deletion.
func (s *uploadService) CleanupVideoObjects(ctx context.Context, videoId uuid.UUID) error {
	return s.gateway.DeletePrefix(ctx, fmt.Sprintf("videos/%s/", videoId))
}

func (s *uploadService) activeSession(ctx context.Context, videoId uuid.UUID) (*entities.UploadSession, error) {
	session, err := s.repo.FindSessionByVideoId(ctx, videoId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}
