package repository

import (
	"context"
	"errors"

	"imagedetect/internal/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ImageRepository defines the interface for image data operations.
type ImageRepository interface {
	// Create operations
	Insert(ctx context.Context, img *models.Image) (int64, error)

	// Read operations
	GetByID(ctx context.Context, id int64) (*models.Image, error)
	GetWithDetections(ctx context.Context, id int64) (*models.Image, error)
	GetAll(ctx context.Context, filter *models.ImageFilter) ([]models.Image, error)
	ExistsByPath(ctx context.Context, filePath string) (bool, error)

	// Update operations
	UpdateStatus(ctx context.Context, id int64, status models.DetectionStatus, detectionError string) error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// InsertBatch writes all detections for imageID and marks the image
	// complete in a single transaction.
	InsertBatch(ctx context.Context, imageID int64, detections []models.Detection) error

	GetByImageID(ctx context.Context, imageID int64) ([]models.Detection, error)
}
