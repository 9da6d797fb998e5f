package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"imagedetect/internal/models"
	"imagedetect/internal/repository"
)

// DetectionRepository implements repository.DetectionRepository.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds all detections for an image and marks the image complete
// in a single transaction. Nothing is visible unless every row lands.
func (r *DetectionRepository) InsertBatch(ctx context.Context, imageID int64, detections []models.Detection) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
			INSERT INTO character_detections (image_id, bbox_x, bbox_y, bbox_w, bbox_h, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, det := range detections {
			var confidence interface{}
			if det.Confidence != nil {
				confidence = *det.Confidence
			}
			if _, err := stmt.ExecContext(ctx, imageID, det.X, det.Y, det.Width, det.Height, confidence); err != nil {
				return fmt.Errorf("failed to insert detection: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, r.db.Rebind(`
			UPDATE images SET detection_status = ?, detection_error = NULL WHERE id = ?
		`), string(models.StatusComplete), imageID)
		if err != nil {
			return fmt.Errorf("failed to update image status: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("image %d: %w", imageID, repository.ErrNotFound)
		}
		return nil
	})
}

// GetByImageID retrieves all detections for an image.
func (r *DetectionRepository) GetByImageID(ctx context.Context, imageID int64) ([]models.Detection, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`
		SELECT id, image_id, bbox_x, bbox_y, bbox_w, bbox_h, confidence
		FROM character_detections WHERE image_id = ?
		ORDER BY id
	`), imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	detections := []models.Detection{}
	for rows.Next() {
		var (
			det        models.Detection
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&det.ID, &det.ImageID, &det.X, &det.Y, &det.Width, &det.Height, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if confidence.Valid {
			c := confidence.Float64
			det.Confidence = &c
		}
		detections = append(detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}

	return detections, nil
}
