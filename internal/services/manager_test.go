package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
	"imagedetect/internal/models"
	"imagedetect/internal/repository"
	"imagedetect/internal/repository/sqlstore"
	"imagedetect/internal/services/ai"
)

type stubDetector struct {
	results []ai.DetectionResult
	err     error
	panics  bool
	calls   atomic.Int32
}

func (d *stubDetector) Detect(ctx context.Context, path string) ([]ai.DetectionResult, error) {
	d.calls.Add(1)
	if d.panics {
		panic("model exploded")
	}
	return d.results, d.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.DetectionEvent
}

func (n *recordingNotifier) Publish(event models.DetectionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []models.DetectionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.DetectionEvent(nil), n.events...)
}

// countingDetections wraps a repository and counts InsertBatch calls.
type countingDetections struct {
	repository.DetectionRepository
	batches atomic.Int32
	err     error
}

func (c *countingDetections) InsertBatch(ctx context.Context, imageID int64, detections []models.Detection) error {
	c.batches.Add(1)
	if c.err != nil {
		return c.err
	}
	return c.DetectionRepository.InsertBatch(ctx, imageID, detections)
}

// countingImages counts status writes.
type countingImages struct {
	repository.ImageRepository
	updates atomic.Int32
}

func (c *countingImages) UpdateStatus(ctx context.Context, id int64, status models.DetectionStatus, detectionError string) error {
	c.updates.Add(1)
	return c.ImageRepository.UpdateStatus(ctx, id, status, detectionError)
}

type fixture struct {
	manager    *Manager
	detector   *stubDetector
	images     *countingImages
	detections *countingDetections
	notifier   *recordingNotifier
	store      *sqlstore.DetectionRepository
	db         *sqlstore.DB
}

func newFixture(t *testing.T, detector *stubDetector, workers int) *fixture {
	t.Helper()

	db, err := sqlstore.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.NewDetectionRepository(db)
	f := &fixture{
		detector:   detector,
		images:     &countingImages{ImageRepository: sqlstore.NewImageRepository(db)},
		detections: &countingDetections{DetectionRepository: store},
		notifier:   &recordingNotifier{},
		store:      store,
		db:         db,
	}
	f.manager = NewManager(f.detector, f.images, f.detections, f.notifier,
		&config.Config{DetectionWorkers: workers}, logger.NewDiscard())
	t.Cleanup(func() { f.manager.Stop(context.Background()) })
	return f
}

func (f *fixture) insertImage(t *testing.T) *models.Image {
	t.Helper()
	img := &models.Image{Filename: "photo.jpg", FilePath: "/data/images/photo.jpg"}
	_, err := f.images.Insert(context.Background(), img)
	require.NoError(t, err)
	return img
}

func (f *fixture) detectionCount(t *testing.T) int {
	t.Helper()
	var count int
	require.NoError(t, f.db.Conn().QueryRow(`SELECT COUNT(*) FROM character_detections`).Scan(&count))
	return count
}

func person(x, y, w, h int, score float64) ai.DetectionResult {
	return ai.DetectionResult{Label: "person", ClassID: 1, X: x, Y: y, Width: w, Height: h, Confidence: score}
}

func TestManager_RunDetection_SkipsImageWithoutID(t *testing.T) {
	f := newFixture(t, &stubDetector{results: []ai.DetectionResult{person(1, 1, 1, 1, 0.9)}}, 1)

	outcome := f.manager.RunDetection(context.Background(), &models.Image{FilePath: "/x.jpg"})
	require.True(t, outcome.Skipped)
	require.False(t, f.manager.ScheduleDetection(&models.Image{FilePath: "/x.jpg"}))
	require.False(t, f.manager.ScheduleDetection(nil))
	f.manager.Wait()

	require.Zero(t, f.detector.calls.Load())
	require.Zero(t, f.detections.batches.Load())
	require.Zero(t, f.images.updates.Load())
	require.Empty(t, f.notifier.Events())
}

func TestManager_RunDetection_NoCandidates(t *testing.T) {
	f := newFixture(t, &stubDetector{}, 1)
	img := f.insertImage(t)

	outcome := f.manager.RunDetection(context.Background(), img)
	require.NoError(t, outcome.Err)
	require.Equal(t, models.StatusComplete, outcome.Status)
	require.Zero(t, outcome.Count)

	require.Zero(t, f.detections.batches.Load(), "no detection transaction for an empty result")
	require.Zero(t, f.detectionCount(t))

	got, err := f.images.GetByID(context.Background(), img.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
}

func TestManager_RunDetection_WritesAllDetections(t *testing.T) {
	f := newFixture(t, &stubDetector{results: []ai.DetectionResult{
		person(10, 10, 40, 50, 0.95),
		person(100, 20, 30, 60, 0.85),
		person(0, 0, 5, 5, 0.81),
	}}, 1)
	img := f.insertImage(t)

	outcome := f.manager.RunDetection(context.Background(), img)
	require.NoError(t, outcome.Err)
	require.Equal(t, 3, outcome.Count)
	require.Equal(t, int32(1), f.detections.batches.Load(), "one transaction per run")

	stored, err := f.store.GetByImageID(context.Background(), img.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, det := range stored {
		require.Equal(t, img.ID, det.ImageID)
	}
	require.Equal(t, 40, stored[0].Width)
	require.InDelta(t, 0.95, *stored[0].Confidence, 1e-9)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.DetectionEvent{ImageID: img.ID, Status: models.StatusComplete, Count: 3}, events[0])
}

func TestManager_RunDetection_MissingFile(t *testing.T) {
	detector := &stubDetector{err: fmt.Errorf("%w: /data/images/photo.jpg", ai.ErrImageNotFound)}
	f := newFixture(t, detector, 1)
	img := f.insertImage(t)

	outcome := f.manager.RunDetection(context.Background(), img)
	require.ErrorIs(t, outcome.Err, ai.ErrImageNotFound)
	require.Equal(t, models.StatusFailed, outcome.Status)
	require.Zero(t, f.detectionCount(t))

	got, err := f.images.GetByID(context.Background(), img.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, got.DetectionError, "not found")
}

func TestManager_RunDetection_DecodeError(t *testing.T) {
	f := newFixture(t, &stubDetector{err: ai.ErrDecode}, 1)
	img := f.insertImage(t)

	outcome := f.manager.RunDetection(context.Background(), img)
	require.ErrorIs(t, outcome.Err, ai.ErrDecode)
	require.Equal(t, models.StatusFailed, outcome.Status)
	require.Zero(t, f.detections.batches.Load())
}

func TestManager_RunDetection_PersistenceError(t *testing.T) {
	f := newFixture(t, &stubDetector{results: []ai.DetectionResult{person(1, 1, 2, 2, 0.9)}}, 1)
	f.detections.err = errors.New("disk I/O error")
	img := f.insertImage(t)

	outcome := f.manager.RunDetection(context.Background(), img)
	require.Error(t, outcome.Err)
	require.Equal(t, models.StatusFailed, outcome.Status)
	require.Zero(t, f.detectionCount(t))

	got, err := f.images.GetByID(context.Background(), img.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "disk I/O error", got.DetectionError)
}

func TestManager_RunDetection_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, &stubDetector{panics: true}, 1)
	img := f.insertImage(t)

	require.NotPanics(t, func() {
		outcome := f.manager.RunDetection(context.Background(), img)
		require.Equal(t, models.StatusFailed, outcome.Status)
	})
}

func TestManager_ScheduleDetection_RunsInBackground(t *testing.T) {
	f := newFixture(t, &stubDetector{results: []ai.DetectionResult{person(10, 10, 40, 50, 0.95)}}, 2)
	img := f.insertImage(t)

	require.True(t, f.manager.ScheduleDetection(img))
	f.manager.Wait()

	got, err := f.images.GetWithDetections(context.Background(), img.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
	require.Len(t, got.Detections, 1)
}

// blockingDetector holds every run until released and tracks concurrency.
type blockingDetector struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (d *blockingDetector) Detect(ctx context.Context, path string) ([]ai.DetectionResult, error) {
	n := d.active.Add(1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-d.release
	d.active.Add(-1)
	return nil, nil
}

func TestManager_ScheduleDetection_BoundsConcurrency(t *testing.T) {
	db, err := sqlstore.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	images := sqlstore.NewImageRepository(db)
	detector := &blockingDetector{release: make(chan struct{})}
	manager := NewManager(detector, images, sqlstore.NewDetectionRepository(db), nil,
		&config.Config{DetectionWorkers: 2}, logger.NewDiscard())

	for i := 0; i < 5; i++ {
		img := &models.Image{Filename: "a.jpg", FilePath: "/a.jpg"}
		_, err := images.Insert(context.Background(), img)
		require.NoError(t, err)
		require.True(t, manager.ScheduleDetection(img))
	}

	require.Eventually(t, func() bool { return detector.active.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(detector.release)
	manager.Wait()

	require.Equal(t, int32(2), detector.peak.Load())
}

func TestManager_Stop_RefusesNewRuns(t *testing.T) {
	f := newFixture(t, &stubDetector{}, 1)
	img := f.insertImage(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.manager.Stop(ctx))

	require.False(t, f.manager.ScheduleDetection(img))
	require.Zero(t, f.detector.calls.Load())
}

func TestManager_Stop_AbandonsQueuedRuns(t *testing.T) {
	db, err := sqlstore.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	images := sqlstore.NewImageRepository(db)
	detector := &blockingDetector{release: make(chan struct{})}
	manager := NewManager(detector, images, sqlstore.NewDetectionRepository(db), nil,
		&config.Config{DetectionWorkers: 1}, logger.NewDiscard())

	var ids []int64
	for i := 0; i < 3; i++ {
		img := &models.Image{Filename: "a.jpg", FilePath: "/a.jpg"}
		_, err := images.Insert(context.Background(), img)
		require.NoError(t, err)
		ids = append(ids, img.ID)
		require.True(t, manager.ScheduleDetection(img))
	}
	require.Eventually(t, func() bool { return detector.active.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- manager.Stop(context.Background()) }()

	// Let the in-flight run finish; the queued ones never start.
	time.Sleep(50 * time.Millisecond)
	close(detector.release)
	require.NoError(t, <-stopped)

	pending := 0
	for _, id := range ids {
		img, err := images.GetByID(context.Background(), id)
		require.NoError(t, err)
		if img.Status == models.StatusPending {
			pending++
		}
	}
	require.Equal(t, 2, pending)
}
