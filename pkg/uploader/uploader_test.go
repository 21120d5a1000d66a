package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"upload-coordinator/dto"
)

const testPartSize = 64 * 1024

// fakeCoordinator emulates the upload coordinator and the object storage's
// presigned PUT endpoint in one httptest server.
type fakeCoordinator struct {
	t *testing.T

	mu         sync.Mutex
	active     bool
	partSize   int64
	totalParts int
	totalBytes int64
	parts      map[int]string // partNumber -> etag
	partData   map[int][]byte
	completed  bool

	signCalls   int
	initCalls   int
	putFailures map[int]int // partNumber -> remaining 500s to serve

	server     *httptest.Server
	storageURL string // overrides where signed part URLs point
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	f := &fakeCoordinator{
		t:           t,
		parts:       make(map[int]string),
		partData:    make(map[int][]byte),
		putFailures: make(map[int]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCoordinator) seedSession(totalBytes int64, completed ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.partSize = testPartSize
	f.totalBytes = totalBytes
	f.totalParts = int((totalBytes + testPartSize - 1) / testPartSize)
	for _, n := range completed {
		f.parts[n] = fmt.Sprintf("seed-etag-%d", n)
	}
}

func (f *fakeCoordinator) uploadedBytes() int64 {
	var total int64
	for n := range f.parts {
		if n == f.totalParts {
			total += f.totalBytes - int64(f.totalParts-1)*f.partSize
		} else {
			total += f.partSize
		}
	}
	return total
}

func (f *fakeCoordinator) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/storage/"):
		f.handlePut(w, r)
	case strings.HasSuffix(r.URL.Path, "/upload/status"):
		status := dto.UploadStatusResponse{Active: f.active}
		if f.active {
			status.PartSize = f.partSize
			status.TotalParts = f.totalParts
			status.TotalBytes = f.totalBytes
			status.UploadedBytes = f.uploadedBytes()
			for n := range f.parts {
				status.CompletedPartNumbers = append(status.CompletedPartNumbers, n)
			}
		}
		json.NewEncoder(w).Encode(status)
	case strings.HasSuffix(r.URL.Path, "/upload/init"):
		f.initCalls++
		var req dto.InitUploadRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.active = true
		f.partSize = testPartSize
		f.totalBytes = req.TotalBytes
		f.totalParts = int((req.TotalBytes + testPartSize - 1) / testPartSize)
		f.parts = make(map[int]string)
		json.NewEncoder(w).Encode(dto.InitUploadResponse{
			SessionId:  uuid.New(),
			PartSize:   f.partSize,
			TotalParts: f.totalParts,
			ExpiresAt:  time.Now().Add(time.Hour),
		})
	case strings.HasSuffix(r.URL.Path, "/upload/sign-part"):
		f.signCalls++
		var req dto.SignPartRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.PartNumber < 1 || req.PartNumber > f.totalParts {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		base := f.storageURL
		if base == "" {
			base = f.server.URL
		}
		json.NewEncoder(w).Encode(dto.SignPartResponse{
			PartNumber: req.PartNumber,
			URL:        base + "/storage/" + strconv.Itoa(req.PartNumber),
		})
	case strings.HasSuffix(r.URL.Path, "/upload/complete-part"):
		var req dto.RecordPartRequest
		json.NewDecoder(r.Body).Decode(&req)
		if _, exists := f.parts[req.PartNumber]; !exists {
			f.parts[req.PartNumber] = req.ETag
		}
		json.NewEncoder(w).Encode(dto.RecordPartResponse{
			CompletedParts: len(f.parts),
			TotalParts:     f.totalParts,
			UploadedBytes:  f.uploadedBytes(),
			TotalBytes:     f.totalBytes,
		})
	case strings.HasSuffix(r.URL.Path, "/upload/complete"):
		if len(f.parts) != f.totalParts {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.completed = true
		f.active = false
		json.NewEncoder(w).Encode(dto.CompleteUploadResponse{StorageKey: "videos/key", JobId: uuid.New()})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCoordinator) handlePut(w http.ResponseWriter, r *http.Request) {
	partNumber, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/storage/"))
	if f.putFailures[partNumber] > 0 {
		f.putFailures[partNumber]--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	data, _ := io.ReadAll(r.Body)
	f.partData[partNumber] = data
	w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, partNumber))
}

func newTestUploader(f *fakeCoordinator) *Uploader {
	u := New(f.server.URL, f.server.Client())
	u.RetryInterval = time.Millisecond
	return u
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	for event := range events {
		all = append(all, event)
	}
	require.NotEmpty(t, all)
	require.True(t, all[len(all)-1].State.Terminal(), "stream must end with a terminal event")
	for _, event := range all[:len(all)-1] {
		require.False(t, event.State.Terminal(), "only the last event may be terminal")
	}
	return all
}

func testContent(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestUploadEndToEnd(t *testing.T) {
	f := newFakeCoordinator(t)
	u := newTestUploader(f)

	content := testContent(3*testPartSize - 1000)
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	last := all[len(all)-1]
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, int64(len(content)), last.UploadedBytes)
	assert.Equal(t, 3, last.CompletedParts)

	assert.True(t, f.completed)
	require.Len(t, f.partData, 3)
	var reassembled []byte
	for n := 1; n <= 3; n++ {
		reassembled = append(reassembled, f.partData[n]...)
	}
	assert.Equal(t, content, reassembled)
}

func TestUploadResumesMissingParts(t *testing.T) {
	f := newFakeCoordinator(t)
	content := testContent(4 * testPartSize)
	f.seedSession(int64(len(content)), 1, 3)

	u := newTestUploader(f)
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	assert.Equal(t, StateCompleted, all[len(all)-1].State)

	// Only the two missing parts were transferred, and no new session was made.
	assert.Equal(t, 0, f.initCalls)
	assert.Equal(t, 2, f.signCalls)
	assert.Len(t, f.partData, 2)
	assert.Contains(t, f.partData, 2)
	assert.Contains(t, f.partData, 4)
	assert.True(t, f.completed)
}

func TestUploadReinitiatesExpiredSession(t *testing.T) {
	f := newFakeCoordinator(t)
	content := testContent(2 * testPartSize)
	f.seedSession(int64(len(content)), 1)
	f.active = true

	// An expired session must not be resumed.
	original := f.handle
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/upload/status") {
			json.NewEncoder(w).Encode(dto.UploadStatusResponse{Active: true, Expired: true})
			return
		}
		original(w, r)
	}))
	t.Cleanup(srv.Close)

	u := New(srv.URL, srv.Client())
	u.RetryInterval = time.Millisecond
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	assert.Equal(t, StateCompleted, all[len(all)-1].State)
	assert.Equal(t, 1, f.initCalls)
}

func TestUploadRetriesTransientPartFailure(t *testing.T) {
	f := newFakeCoordinator(t)
	f.putFailures[2] = 1

	u := newTestUploader(f)
	content := testContent(3 * testPartSize)
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	assert.Equal(t, StateCompleted, all[len(all)-1].State)
	assert.True(t, f.completed)
}

func TestUploadFailsAfterRetryBudget(t *testing.T) {
	f := newFakeCoordinator(t)
	f.putFailures[2] = 100

	u := newTestUploader(f)
	content := testContent(3 * testPartSize)
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	last := all[len(all)-1]
	assert.Equal(t, StateFailed, last.State)
	require.Error(t, last.Err)
	assert.Contains(t, last.Err.Error(), "part 2")
	assert.False(t, f.completed)
}

func TestUploadCancellation(t *testing.T) {
	f := newFakeCoordinator(t)

	// Stall part transfers until the context is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/storage/") {
			cancel()
			// The server only observes the client going away (and cancels
			// r.Context()) once the request body has been consumed.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
			return
		}
		f.handle(w, r)
	}))
	t.Cleanup(srv.Close)
	f.storageURL = srv.URL

	u := New(srv.URL, srv.Client())
	u.RetryInterval = time.Millisecond
	content := testContent(4 * testPartSize)
	events := u.Upload(ctx, uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	assert.Equal(t, StateCancelled, all[len(all)-1].State)
	assert.False(t, f.completed)
}

func TestUploadProgressEvents(t *testing.T) {
	f := newFakeCoordinator(t)
	u := newTestUploader(f)
	u.Concurrency = 1

	content := testContent(3 * testPartSize)
	events := u.Upload(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(content), int64(len(content)), "video/mp4")

	all := collect(t, events)
	assert.Equal(t, StateInitializing, all[0].State)

	// Progress counters never go backwards.
	var lastBytes int64
	var lastParts int
	for _, event := range all {
		assert.GreaterOrEqual(t, event.UploadedBytes, lastBytes)
		assert.GreaterOrEqual(t, event.CompletedParts, lastParts)
		lastBytes = event.UploadedBytes
		lastParts = event.CompletedParts
	}
	assert.Equal(t, int64(len(content)), all[len(all)-1].UploadedBytes)
}

func TestBuildPlan(t *testing.T) {
	plan := buildPlan(22*1024*1024, 10*1024*1024, 3, map[int]bool{2: true})

	require.Len(t, plan, 2)
	assert.Equal(t, part{number: 1, offset: 0, size: 10 * 1024 * 1024}, plan[0])
	assert.Equal(t, part{number: 3, offset: 20 * 1024 * 1024, size: 2 * 1024 * 1024}, plan[1])
}
