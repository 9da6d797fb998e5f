package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
	"imagedetect/internal/models"
	"imagedetect/internal/repository"
	"imagedetect/internal/services/ai"
)

// Detector finds qualifying objects in the image stored at path.
type Detector interface {
	Detect(ctx context.Context, path string) ([]ai.DetectionResult, error)
}

// Notifier receives an event whenever a detection run finishes.
type Notifier interface {
	Publish(event models.DetectionEvent)
}

// Outcome describes how a single detection run ended.
type Outcome struct {
	Skipped bool
	Status  models.DetectionStatus
	Count   int
	Err     error
}

// Manager schedules detection runs for committed images and records their
// results. Each run is independent; at most DetectionWorkers run at once.
type Manager struct {
	detector   Detector
	images     repository.ImageRepository
	detections repository.DetectionRepository
	notifier   Notifier
	logger     *logger.Logger

	slots   *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

func NewManager(detector Detector, images repository.ImageRepository, detections repository.DetectionRepository,
	notifier Notifier, cfg *config.Config, logger *logger.Logger) *Manager {
	workers := cfg.DetectionWorkers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		detector:   detector,
		images:     images,
		detections: detections,
		notifier:   notifier,
		logger:     logger,
		slots:      semaphore.NewWeighted(int64(workers)),
		ctx:        ctx,
		cancel:     cancel,
	}

	manager.logger.Info("Detection manager started - up to %d concurrent run(s)", workers)
	return manager
}

// ScheduleDetection starts a background detection run for img and returns
// immediately. img must already be committed; an image without an id is
// skipped. Reports whether a run was scheduled.
func (m *Manager) ScheduleDetection(img *models.Image) bool {
	if img == nil || img.ID == 0 {
		path := ""
		if img != nil {
			path = img.FilePath
		}
		m.logger.Error("Image record for %s does not have an ID. Skipping detection.", path)
		return false
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.logger.Warning("Manager is stopping - detection for image %d not scheduled", img.ID)
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()

	target := *img
	m.logger.Info("Adding background detection for image ID: %d", target.ID)

	go func() {
		defer m.wg.Done()

		if err := m.slots.Acquire(m.ctx, 1); err != nil {
			m.logger.Warning("Detection for image %d not started: %v", target.ID, err)
			return
		}
		defer m.slots.Release(1)

		// A run that holds a slot finishes even while the manager stops.
		m.RunDetection(context.WithoutCancel(m.ctx), &target)
	}()
	return true
}

// RunDetection performs one detection run synchronously. Failures are logged
// and recorded on the image, never returned to the scheduler.
func (m *Manager) RunDetection(ctx context.Context, img *models.Image) (outcome Outcome) {
	if img == nil || img.ID == 0 {
		m.logger.Error("Image record does not have an ID. Skipping detection.")
		return Outcome{Skipped: true}
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during detection: %v", r)
			m.logger.Error("Error during detection for image %d: %v", img.ID, err)
			outcome = m.finish(ctx, img.ID, models.StatusFailed, 0, err)
		}
	}()

	m.logger.Info("Starting detection for image ID: %d, Path: %s", img.ID, img.FilePath)

	results, err := m.detector.Detect(ctx, img.FilePath)
	if err != nil {
		if errors.Is(err, ai.ErrImageNotFound) {
			m.logger.Error("File not found at %s for image ID %d", img.FilePath, img.ID)
		} else {
			m.logger.Error("Error during detection for image %d: %v", img.ID, err)
		}
		return m.finish(ctx, img.ID, models.StatusFailed, 0, err)
	}

	if len(results) == 0 {
		m.logger.Info("Finished detection for image %d. No relevant objects detected.", img.ID)
		return m.finish(ctx, img.ID, models.StatusComplete, 0, nil)
	}

	detections := make([]models.Detection, 0, len(results))
	for _, r := range results {
		confidence := r.Confidence
		detections = append(detections, models.Detection{
			ImageID:    img.ID,
			X:          r.X,
			Y:          r.Y,
			Width:      r.Width,
			Height:     r.Height,
			Confidence: &confidence,
		})
	}

	if err := m.detections.InsertBatch(ctx, img.ID, detections); err != nil {
		m.logger.Error("Error saving detections for image %d: %v", img.ID, err)
		return m.finish(ctx, img.ID, models.StatusFailed, 0, err)
	}

	m.logger.Info("Finished detection for image %d. Added %d detections to DB.", img.ID, len(detections))
	return m.publish(img.ID, models.StatusComplete, len(detections), nil)
}

// finish stores the final status and publishes the event. The detection
// rows themselves are written by InsertBatch, which also sets the status.
func (m *Manager) finish(ctx context.Context, imageID int64, status models.DetectionStatus, count int, runErr error) Outcome {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	if err := m.images.UpdateStatus(ctx, imageID, status, message); err != nil {
		m.logger.Error("Failed to record detection status for image %d: %v", imageID, err)
	}
	return m.publish(imageID, status, count, runErr)
}

func (m *Manager) publish(imageID int64, status models.DetectionStatus, count int, runErr error) Outcome {
	event := models.DetectionEvent{ImageID: imageID, Status: status, Count: count}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if m.notifier != nil {
		m.notifier.Publish(event)
	}
	return Outcome{Status: status, Count: count, Err: runErr}
}

// Wait blocks until every scheduled run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stop refuses new runs, abandons runs still waiting for a slot and waits
// for in-flight runs until ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All detection runs stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for detection runs: %w", ctx.Err())
	}
}
