package storage

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"upload-coordinator/constant"
)

// CompletedPart is one entry of the finalize manifest.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Gateway is the object-storage surface the coordinator depends on.
type Gateway interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadId string, partNumber int, expires time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadId string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadId string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type minioGateway struct {
	core   *minio.Core
	bucket string
}

func NewMinioGateway(client *minio.Client, bucket string) Gateway {
	return &minioGateway{
		core:   &minio.Core{Client: client},
		bucket: bucket,
	}
}

func (g *minioGateway) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	return g.core.NewMultipartUpload(ctx, g.bucket, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
}

func (g *minioGateway) PresignUploadPart(ctx context.Context, key, uploadId string, partNumber int, expires time.Duration) (string, error) {
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("uploadId", uploadId)

	u, err := g.core.Presign(ctx, "PUT", g.bucket, key, expires, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (g *minioGateway) CompleteMultipartUpload(ctx context.Context, key, uploadId string, parts []CompletedPart) error {
	completeParts := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completeParts[i] = minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		}
	}

	_, err := g.core.CompleteMultipartUpload(ctx, g.bucket, key, uploadId, completeParts, minio.PutObjectOptions{})
	return err
}

func (g *minioGateway) AbortMultipartUpload(ctx context.Context, key, uploadId string) error {
	return g.core.AbortMultipartUpload(ctx, g.bucket, key, uploadId)
}

// DeletePrefix removes every object under prefix in batches no larger than
// the backend's bulk-delete limit. Per-key failures are logged and skipped
// so cleanup never blocks the primary operation.
func (g *minioGateway) DeletePrefix(ctx context.Context, prefix string) error {
	listing := g.core.Client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	batch := make([]minio.ObjectInfo, 0, constant.MaxDeleteBatch)
	for object := range listing {
		if object.Err != nil {
			zerolog.Ctx(ctx).Warn().Err(object.Err).Str("prefix", prefix).Msg("failed to list object for deletion")
			continue
		}
		batch = append(batch, object)
		if len(batch) == constant.MaxDeleteBatch {
			g.removeBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		g.removeBatch(ctx, batch)
	}

	return nil
}

func (g *minioGateway) removeBatch(ctx context.Context, objects []minio.ObjectInfo) {
	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, object := range objects {
		objectsCh <- object
	}
	close(objectsCh)

	for removeErr := range g.core.RemoveObjects(ctx, g.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		zerolog.Ctx(ctx).Warn().Err(removeErr.Err).Str("object", removeErr.ObjectName).Msg("failed to remove object")
	}
}
