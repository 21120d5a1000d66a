package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"upload-coordinator/constant"
	"upload-coordinator/entities"
)

var ErrNotFound = errors.New("record not found")

type SessionRepository interface {
	GetDB() *gorm.DB
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	UpdateVideoStatus(ctx context.Context, id uuid.UUID, status constant.VideoStatus) error
	MarkVideoUploaded(ctx context.Context, id uuid.UUID, storageKey string) error
	CreateSession(ctx context.Context, session *entities.UploadSession) error
	FindSessionByVideoId(ctx context.Context, videoId uuid.UUID) (*entities.UploadSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	InsertPart(ctx context.Context, part *entities.UploadPart) (bool, error)
	ListParts(ctx context.Context, sessionId uuid.UUID) ([]*entities.UploadPart, error)
	CountParts(ctx context.Context, sessionId uuid.UUID) (int64, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) SessionRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).First(video, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return video, nil
}

func (r *repo) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status constant.VideoStatus) error {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).Model(video).Where("id = ?", id).Update("status", status).Error
	if err != nil {
		return err
	}

	return nil
}

func (r *repo) MarkVideoUploaded(ctx context.Context, id uuid.UUID, storageKey string) error {
	video := &entities.Video{}
	updates := map[string]interface{}{
		"status":      constant.VideoStatusUploaded,
		"storage_key": storageKey,
	}
	err := r.GetDB().WithContext(ctx).Model(video).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return err
	}

	return nil
}

func (r *repo) CreateSession(ctx context.Context, session *entities.UploadSession) error {
	return r.GetDB().WithContext(ctx).Create(session).Error
}

func (r *repo) FindSessionByVideoId(ctx context.Context, videoId uuid.UUID) (*entities.UploadSession, error) {
	session := &entities.UploadSession{}
	err := r.GetDB().WithContext(ctx).First(session, "video_id = ?", videoId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return session, nil
}

// DeleteSession removes a session and its recorded parts.
func (r *repo) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&entities.UploadPart{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entities.UploadSession{}).Error
	})
}

// InsertPart records a completed part. The unique index on
// (session_id, part_number) turns retried or racing inserts of the same part
// into no-ops; the bool result reports whether a row was actually written.
func (r *repo) InsertPart(ctx context.Context, part *entities.UploadPart) (bool, error) {
	result := r.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "part_number"}},
		DoNothing: true,
	}).Create(part)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *repo) ListParts(ctx context.Context, sessionId uuid.UUID) ([]*entities.UploadPart, error) {
	var parts []*entities.UploadPart
	err := r.GetDB().WithContext(ctx).Where("session_id = ?", sessionId).Order("part_number ASC").Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *repo) CountParts(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.UploadPart{}).Where("session_id = ?", sessionId).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
