package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"upload-coordinator/dto"
)

// StatusTTL keeps cached progress fresh enough for polling clients.
const StatusTTL = 5 * time.Second

// StatusCache is a read-through cache for upload status lookups. A nil
// *StatusCache is valid and disables caching.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	if client == nil {
		return nil
	}
	return &StatusCache{client: client}
}

func statusKey(videoId uuid.UUID) string {
	return "upload:status:" + videoId.String()
}

func (c *StatusCache) Get(ctx context.Context, videoId uuid.UUID) (*dto.UploadStatusResponse, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, statusKey(videoId)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache read failed")
		}
		return nil, false
	}

	var status dto.UploadStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, false
	}
	return &status, true
}

func (c *StatusCache) Set(ctx context.Context, videoId uuid.UUID, status *dto.UploadStatusResponse) {
	if c == nil {
		return
	}

	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statusKey(videoId), data, StatusTTL).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache write failed")
	}
}

// Invalidate drops the cached status after any mutating operation.
func (c *StatusCache) Invalidate(ctx context.Context, videoId uuid.UUID) {
	if c == nil {
		return
	}

	if err := c.client.Del(ctx, statusKey(videoId)).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache invalidation failed")
	}
}
