package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-bulkops/internal/metrics"
	"auction-bulkops/internal/models"
	"auction-bulkops/internal/queue"
	"auction-bulkops/internal/repository"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// memStager is an in-memory Stager that remembers removals
type memStager struct {
	mu       sync.Mutex
	files    map[string][]byte
	removals map[string]int
	seq      int
	stageErr error
}

func newMemStager() *memStager {
	return &memStager{files: make(map[string][]byte), removals: make(map[string]int)}
}

func (m *memStager) Stage(ctx context.Context, name string, r io.Reader) (string, error) {
	if m.stageErr != nil {
		return "", m.stageErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	handle := fmt.Sprintf("staged-%d%s", m.seq, path.Ext(name))
	m.files[handle] = body
	return handle, nil
}

func (m *memStager) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[handle]
	if !ok {
		return nil, fmt.Errorf("no staged file %s", handle)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memStager) Remove(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, handle)
	m.removals[handle]++
	return nil
}

func (m *memStager) exists(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[handle]
	return ok
}

// mockListingRepository is a mock implementation of ListingRepository
type mockListingRepository struct {
	mu          sync.Mutex
	saved       []models.Listing
	batches     int
	saveErr     error
	failOnBatch int
	onSave      func(batch int)
}

func (m *mockListingRepository) SaveBatch(ctx context.Context, listings []models.Listing) error {
	m.mu.Lock()
	m.batches++
	batch := m.batches
	hook := m.onSave
	m.mu.Unlock()

	if hook != nil {
		hook(batch)
	}
	if m.saveErr != nil && (m.failOnBatch == 0 || m.failOnBatch == batch) {
		return m.saveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, listings...)
	return nil
}

func (m *mockListingRepository) CountListings(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved), nil
}

func (m *mockListingRepository) Close() error { return nil }

type harness struct {
	svc      *ImportService
	worker   *WorkerService
	registry *repository.MemoryRegistry
	queue    *queue.Queue[string]
	stager   *memStager
	listings *mockListingRepository
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: repository.NewMemoryRegistry(24*time.Hour, 10),
		queue:    queue.New[string](),
		stager:   newMemStager(),
		listings: &mockListingRepository{},
		metrics:  metrics.NewMetrics(),
	}
	h.svc = NewImportService(h.registry, h.queue, h.stager, NewRateLimiter(0, 0), h.metrics)
	h.worker = NewWorkerService(h.registry, h.queue, h.stager, h.listings, h.metrics, WorkerConfig{
		ChunkSize:        1000,
		ProgressInterval: time.Second,
	})
	return h
}

func (h *harness) submit(t *testing.T, fileName, body string) string {
	t.Helper()
	id, err := h.svc.Submit(context.Background(), "seller-1", "Acme Auctions", fileName, strings.NewReader(body))
	require.NoError(t, err)
	return id
}

// runNext pops the next queued job and processes it to completion
func (h *harness) runNext(t *testing.T, ctx context.Context) *models.Job {
	t.Helper()
	id, err := h.queue.Pop(ctx)
	require.NoError(t, err)
	h.worker.ProcessJob(ctx, id)
	job, err := h.registry.Get(id)
	require.NoError(t, err)
	return job
}

// listingsCSV builds a file with rows data rows; rows in bad carry a
// non-numeric starting price.
func listingsCSV(rows int, bad ...int) string {
	isBad := make(map[int]bool, len(bad))
	for _, r := range bad {
		isBad[r] = true
	}

	var b strings.Builder
	b.WriteString("sku,title,starting_price,quantity\n")
	for i := 1; i <= rows; i++ {
		price := fmt.Sprintf("%d.99", i%500+1)
		if isBad[i] {
			price = "n/a"
		}
		fmt.Fprintf(&b, "SKU-%05d,\"Lot %d, assorted\",%s,1\n", i, i, price)
	}
	return b.String()
}

func TestImportService_Submit_Success(t *testing.T) {
	h := newHarness(t)

	id := h.submit(t, "lots.csv", listingsCSV(3))
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, h.queue.Len())

	snap, err := h.svc.GetProgress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, snap.Status)
	assert.Equal(t, "lots.csv", snap.FileName)
	assert.Nil(t, snap.EstimatedSecondsRemaining)

	job, err := h.registry.Get(id)
	require.NoError(t, err)
	assert.True(t, h.stager.exists(job.SourceHandle))
	assert.Equal(t, "Acme Auctions", job.SubmitterName)
	assert.Equal(t, int64(1), h.metrics.GetSnapshot()["jobs_submitted"])
}

func TestImportService_Submit_InvalidSubmitter(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), "  ", "", "lots.csv", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidSubmitter)
	assert.Zero(t, h.queue.Len())
}

func TestImportService_Submit_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.svc.rateLimiter = NewRateLimiter(1, 1)

	h.submit(t, "a.csv", listingsCSV(1))
	_, err := h.svc.Submit(context.Background(), "seller-1", "", "b.csv", strings.NewReader(listingsCSV(1)))
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, int64(1), h.metrics.GetSnapshot()["submissions_rejected"])
}

func TestImportService_Submit_StageFailure(t *testing.T) {
	h := newHarness(t)
	h.stager.stageErr = errors.New("disk full")

	_, err := h.svc.Submit(context.Background(), "seller-1", "", "a.csv", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, h.queue.Len())
	assert.Empty(t, h.registry.ListBySubmitter("seller-1"))
}

func TestImportService_Submit_AfterQueueClosed(t *testing.T) {
	h := newHarness(t)
	h.queue.Close()

	_, err := h.svc.Submit(context.Background(), "seller-1", "", "a.csv", strings.NewReader(listingsCSV(1)))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Empty(t, h.registry.ListBySubmitter("seller-1"))
	assert.Empty(t, h.stager.files)
}

func TestImportService_GetProgress_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.GetProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestImportService_ListJobs_NewestFirstCappedToQuota(t *testing.T) {
	h := newHarness(t)
	clock := t0
	h.svc.now = func() time.Time { return clock }

	var ids []string
	for i := 0; i < 12; i++ {
		clock = t0.Add(time.Duration(i) * time.Minute)
		ids = append(ids, h.submit(t, fmt.Sprintf("file-%d.csv", i), listingsCSV(1)))
	}

	snaps, err := h.svc.ListJobs(context.Background(), "seller-1")
	require.NoError(t, err)
	require.Len(t, snaps, 10)
	for i, snap := range snaps {
		assert.Equal(t, ids[11-i], snap.JobID)
	}

	others, err := h.svc.ListJobs(context.Background(), "seller-2")
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = h.svc.ListJobs(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSubmitter)
}

func TestImportService_Cancel_Pending(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t, "lots.csv", listingsCSV(5))
	job, err := h.registry.Get(id)
	require.NoError(t, err)

	snap, err := h.svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, snap.Status)
	assert.False(t, h.stager.exists(job.SourceHandle))

	after := h.runNext(t, context.Background())
	assert.Equal(t, models.StatusCancelled, after.Status)
	assert.Zero(t, after.ProcessedItems)
	assert.Zero(t, h.listings.batches)
	assert.Equal(t, int64(1), h.metrics.GetSnapshot()["jobs_cancelled"])
	assert.Equal(t, 1, h.stager.removals[job.SourceHandle], "staged file removed exactly once")
}

func TestImportService_Cancel_AlreadyTerminal(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t, "lots.csv", listingsCSV(10, 4))
	done := h.runNext(t, context.Background())
	require.Equal(t, models.StatusCompletedWithErrors, done.Status)

	snap, err := h.svc.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, models.StatusCompletedWithErrors, snap.Status)

	after, err := h.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, done.SuccessCount, after.SuccessCount)
	assert.Equal(t, done.FailureCount, after.FailureCount)
	assert.Equal(t, done.ProcessedItems, after.ProcessedItems)
	assert.Equal(t, done.Status, after.Status)
}

func TestImportService_Cancel_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestImportService_Sweep(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "lots.csv", listingsCSV(2))
	h.runNext(t, context.Background())

	assert.Zero(t, h.svc.Sweep())

	h.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	assert.Equal(t, 1, h.svc.Sweep())
	assert.Empty(t, h.registry.ListBySubmitter("seller-1"))
}
