// Package uploader drives a single video file's resumable multipart upload
// end-to-end: it chunks the file into a part plan, uploads parts concurrently
// through presigned URLs, retries transient failures, and resumes an
// interrupted upload from the coordinator's recorded state.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"upload-coordinator/dto"
)

type State string

const (
	StateInitializing State = "initializing"
	StateUploading    State = "uploading"
	StateCompleting   State = "completing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Event is one progress or terminal notification. The event stream ends with
// exactly one terminal state (completed, failed or cancelled), after which
// the channel is closed.
type Event struct {
	State          State
	UploadedBytes  int64
	TotalBytes     int64
	CompletedParts int
	TotalParts     int
	Err            error
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

const (
	DefaultConcurrency = 4
	DefaultMaxTries    = 3
)

// Uploader is the client-side upload manager. Construct one per coordinator
// endpoint; a single Uploader may run many uploads concurrently, each with
// its own state.
type Uploader struct {
	api *apiClient

	// Concurrency bounds the number of parts in flight per upload.
	Concurrency int
	// MaxTries is the per-part retry budget, counting the first attempt.
	MaxTries uint
	// RetryInterval seeds the exponential backoff between part attempts.
	RetryInterval time.Duration
}

func New(baseURL string, client *http.Client) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{
		api:           &apiClient{baseURL: baseURL, http: client},
		Concurrency:   DefaultConcurrency,
		MaxTries:      DefaultMaxTries,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Upload starts uploading totalBytes of content for the given video and
// returns the event stream. The caller must drain the channel until it is
// closed; cancel ctx to stop the upload cooperatively.
func (u *Uploader) Upload(ctx context.Context, orgId, videoId uuid.UUID, content io.ReaderAt, totalBytes int64, mimeType string) <-chan Event {
	events := make(chan Event, 1)
	go u.run(ctx, orgId, videoId, content, totalBytes, mimeType, events)
	return events
}

type progress struct {
	mu             sync.Mutex
	uploadedBytes  int64
	completedParts int
	totalBytes     int64
	totalParts     int
}

// update folds in the coordinator's counters, which may arrive out of order
// from racing workers, and reports whether they advanced.
func (p *progress) update(resp *dto.RecordPartResponse) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if resp.CompletedParts <= p.completedParts {
		return Event{}, false
	}
	p.completedParts = resp.CompletedParts
	p.uploadedBytes = resp.UploadedBytes
	return p.snapshotLocked(StateUploading), true
}

func (p *progress) snapshot(state State) Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(state)
}

func (p *progress) snapshotLocked(state State) Event {
	return Event{
		State:          state,
		UploadedBytes:  p.uploadedBytes,
		TotalBytes:     p.totalBytes,
		CompletedParts: p.completedParts,
		TotalParts:     p.totalParts,
	}
}

func (u *Uploader) run(ctx context.Context, orgId, videoId uuid.UUID, content io.ReaderAt, totalBytes int64, mimeType string, events chan Event) {
	defer close(events)

	events <- Event{State: StateInitializing, TotalBytes: totalBytes}

	plan, tracker, err := u.resumeOrInit(ctx, orgId, videoId, totalBytes, mimeType)
	if err != nil {
		events <- u.terminal(ctx, tracker, err)
		return
	}

	events <- tracker.snapshot(StateUploading)

	if err := u.uploadParts(ctx, orgId, videoId, content, plan, tracker, events); err != nil {
		events <- u.terminal(ctx, tracker, err)
		return
	}

	events <- tracker.snapshot(StateCompleting)
	if _, err := u.api.complete(ctx, orgId, videoId); err != nil {
		events <- u.terminal(ctx, tracker, err)
		return
	}

	events <- tracker.snapshot(StateCompleted)
}

// resumeOrInit reuses an active, non-expired session when one exists,
// otherwise initiates a fresh one. The returned plan holds only the parts
// still to upload.
func (u *Uploader) resumeOrInit(ctx context.Context, orgId, videoId uuid.UUID, totalBytes int64, mimeType string) ([]part, *progress, error) {
	tracker := &progress{totalBytes: totalBytes}

	status, err := u.api.status(ctx, orgId, videoId)
	if err != nil {
		return nil, tracker, fmt.Errorf("fetching upload status: %w", err)
	}

	if status.Active && !status.Expired && status.TotalBytes == totalBytes {
		completed := make(map[int]bool, len(status.CompletedPartNumbers))
		for _, n := range status.CompletedPartNumbers {
			completed[n] = true
		}
		tracker.totalParts = status.TotalParts
		tracker.completedParts = len(completed)
		tracker.uploadedBytes = status.UploadedBytes
		return buildPlan(totalBytes, status.PartSize, status.TotalParts, completed), tracker, nil
	}

	session, err := u.api.init(ctx, orgId, videoId, totalBytes, mimeType)
	if err != nil {
		return nil, tracker, fmt.Errorf("initiating upload: %w", err)
	}
	tracker.totalParts = session.TotalParts
	return buildPlan(totalBytes, session.PartSize, session.TotalParts, nil), tracker, nil
}

func (u *Uploader) uploadParts(ctx context.Context, orgId, videoId uuid.UUID, content io.ReaderAt, plan []part, tracker *progress, events chan Event) error {
	if len(plan) == 0 {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan part)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	workers := u.Concurrency
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				resp, err := u.uploadPart(wctx, orgId, videoId, content, p)
				if err != nil {
					fail(err)
					return
				}
				if event, advanced := tracker.update(resp); advanced {
					select {
					case events <- event:
					case <-ctx.Done():
					}
				}
			}
		}()
	}

	// Dispatch checks cancellation before handing out each new part.
dispatch:
	for _, p := range plan {
		select {
		case jobs <- p:
		case <-wctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return wctx.Err()
}

// uploadPart signs, transfers and records one part, retrying transient
// failures with exponential backoff until the retry budget runs out. Each
// worker owns its own retry loop.
func (u *Uploader) uploadPart(ctx context.Context, orgId, videoId uuid.UUID, content io.ReaderAt, p part) (*dto.RecordPartResponse, error) {
	operation := func() (*dto.RecordPartResponse, error) {
		signed, err := u.api.signPart(ctx, orgId, videoId, p.number)
		if err != nil {
			return nil, classify(err)
		}

		etag, err := u.transferPart(ctx, signed.URL, content, p)
		if err != nil {
			return nil, classify(err)
		}

		resp, err := u.api.recordPart(ctx, orgId, videoId, p.number, etag)
		if err != nil {
			return nil, classify(err)
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.RetryInterval
	resp, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(u.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("part %d: %w", p.number, err)
	}
	return resp, nil
}

// transferPart performs the actual byte transfer through the presigned URL
// and returns the storage backend's integrity token for the part.
func (u *Uploader) transferPart(ctx context.Context, signedURL string, content io.ReaderAt, p part) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, io.NewSectionReader(content, p.offset, p.size))
	if err != nil {
		return "", err
	}
	req.ContentLength = p.size

	resp, err := u.api.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("part transfer returned %d", resp.StatusCode)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", errors.New("part transfer returned no etag")
	}
	return etag, nil
}

// classify marks coordinator rejections that retrying cannot fix as
// permanent so the backoff loop stops immediately.
func classify(err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.permanent() {
		return backoff.Permanent(err)
	}
	return err
}

func (u *Uploader) terminal(ctx context.Context, tracker *progress, err error) Event {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		event := tracker.snapshot(StateCancelled)
		return event
	}
	event := tracker.snapshot(StateFailed)
	event.Err = err
	return event
}
