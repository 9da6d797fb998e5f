package ai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
)

var (
	// ErrImageNotFound is returned when the image file does not exist.
	ErrImageNotFound = errors.New("image file not found")
	// ErrDecode is returned when the file exists but cannot be decoded.
	ErrDecode = errors.New("failed to decode image")
	// ErrModelUnavailable is returned when no detection network is loaded.
	ErrModelUnavailable = errors.New("detection network not initialized")
)

// Candidate is one raw model output: box corners in source-image pixels,
// class id and score.
type Candidate struct {
	X1, Y1, X2, Y2 float32
	ClassID        int
	Score          float32
}

// DetectionResult is a qualifying candidate in integer pixel space.
type DetectionResult struct {
	Label      string
	ClassID    int
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// Model runs inference on an image file. Implementations are loaded once
// and shared by all detection runs.
type Model interface {
	Predict(ctx context.Context, path string) ([]Candidate, error)
	Close() error
}

// DetectorService wraps a loaded model and keeps only candidates of the
// configured class scoring above the configured threshold.
type DetectorService struct {
	model     Model
	classID   int
	threshold float64
	logger    *logger.Logger
}

// NewDetectorService creates a detector around an already loaded model.
func NewDetectorService(model Model, cfg *config.Config, logger *logger.Logger) *DetectorService {
	return &DetectorService{
		model:     model,
		classID:   cfg.TargetClassID,
		threshold: cfg.ScoreThreshold,
		logger:    logger,
	}
}

// Detect runs the model on the image at path and returns the qualifying
// detections. A missing file yields ErrImageNotFound.
func (s *DetectorService) Detect(ctx context.Context, path string) ([]DetectionResult, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if s.model == nil {
		return nil, ErrModelUnavailable
	}

	candidates, err := s.model.Predict(ctx, path)
	if err != nil {
		return nil, err
	}

	results := FilterCandidates(candidates, s.classID, s.threshold)
	for _, r := range results {
		s.logger.Debug("Detected %s at [%d,%d,%d,%d] with score %.2f",
			r.Label, r.X, r.Y, r.X+r.Width, r.Y+r.Height, r.Confidence)
	}
	return results, nil
}

// Close releases the model.
func (s *DetectorService) Close() error {
	if s.model == nil {
		return nil
	}
	return s.model.Close()
}

// FilterCandidates keeps candidates whose class equals classID and whose
// score is strictly greater than threshold. The comparison is done at the
// model's float32 precision, so a score of exactly 0.8 does not pass a 0.8
// threshold. Corners are truncated to integers before width and height are
// derived from them.
func FilterCandidates(candidates []Candidate, classID int, threshold float64) []DetectionResult {
	limit := float32(threshold)
	results := make([]DetectionResult, 0, len(candidates))
	for _, c := range candidates {
		if c.ClassID != classID || !(c.Score > limit) {
			continue
		}

		x1, y1, x2, y2 := int(c.X1), int(c.Y1), int(c.X2), int(c.Y2)
		results = append(results, DetectionResult{
			Label:      ClassLabel(c.ClassID),
			ClassID:    c.ClassID,
			Confidence: float64(c.Score),
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
		})
	}
	return results
}

// ClassLabel returns the COCO name of a class id.
func ClassLabel(classID int) string {
	labels := map[int]string{
		1:  "person",
		2:  "bicycle",
		3:  "car",
		4:  "motorcycle",
		5:  "airplane",
		6:  "bus",
		7:  "train",
		8:  "truck",
		16: "bird",
		17: "cat",
		18: "dog",
	}

	if label, exists := labels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}
