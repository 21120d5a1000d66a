package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"upload-coordinator/dto"
)

// apiClient talks to the upload coordinator's HTTP surface.
type apiClient struct {
	baseURL string
	http    *http.Client
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.status, e.body)
}

// permanent reports whether retrying the same request can ever succeed.
// Validation, not-found and gone responses are final; anything else
// (network errors, 5xx) is worth another attempt.
func (e *apiError) permanent() bool {
	return e.status >= 400 && e.status < 500 && e.status != http.StatusRequestTimeout && e.status != http.StatusTooManyRequests
}

func (c *apiClient) uploadPath(orgId, videoId uuid.UUID, op string) string {
	return fmt.Sprintf("%s/organizations/%s/videos/%s/upload/%s", strings.TrimRight(c.baseURL, "/"), orgId, videoId, op)
}

func (c *apiClient) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *apiClient) status(ctx context.Context, orgId, videoId uuid.UUID) (*dto.UploadStatusResponse, error) {
	var resp dto.UploadStatusResponse
	err := c.do(ctx, http.MethodGet, c.uploadPath(orgId, videoId, "status"), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) init(ctx context.Context, orgId, videoId uuid.UUID, totalBytes int64, mimeType string) (*dto.InitUploadResponse, error) {
	var resp dto.InitUploadResponse
	req := dto.InitUploadRequest{TotalBytes: totalBytes, MimeType: mimeType}
	err := c.do(ctx, http.MethodPost, c.uploadPath(orgId, videoId, "init"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) signPart(ctx context.Context, orgId, videoId uuid.UUID, partNumber int) (*dto.SignPartResponse, error) {
	var resp dto.SignPartResponse
	req := dto.SignPartRequest{PartNumber: partNumber}
	err := c.do(ctx, http.MethodPost, c.uploadPath(orgId, videoId, "sign-part"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) recordPart(ctx context.Context, orgId, videoId uuid.UUID, partNumber int, etag string) (*dto.RecordPartResponse, error) {
	var resp dto.RecordPartResponse
	req := dto.RecordPartRequest{PartNumber: partNumber, ETag: etag}
	err := c.do(ctx, http.MethodPost, c.uploadPath(orgId, videoId, "complete-part"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) complete(ctx context.Context, orgId, videoId uuid.UUID) (*dto.CompleteUploadResponse, error) {
	var resp dto.CompleteUploadResponse
	err := c.do(ctx, http.MethodPost, c.uploadPath(orgId, videoId, "complete"), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
