package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"imagedetect/internal/models"
	"imagedetect/internal/repository"
)

// ImageRepository implements repository.ImageRepository.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Insert adds a new image record and commits it. img.ID, and the timestamp
// and status defaults, are filled in on success.
func (r *ImageRepository) Insert(ctx context.Context, img *models.Image) (int64, error) {
	if img.Timestamp.IsZero() {
		img.Timestamp = time.Now().UTC()
	}
	if img.Status == "" {
		img.Status = models.StatusPending
	}

	var id int64
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO images (filename, filepath, timestamp, detection_status)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), img.Filename, img.FilePath, img.Timestamp, string(img.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	img.ID = id
	return id, nil
}

// GetByID retrieves an image by its ID, without detections.
func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*models.Image, error) {
	row := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, filename, filepath, timestamp, detection_status, detection_error
		FROM images WHERE id = ?
	`), id)

	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

// GetWithDetections loads an image and its detections in one query.
func (r *ImageRepository) GetWithDetections(ctx context.Context, id int64) (*models.Image, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`
		SELECT i.id, i.filename, i.filepath, i.timestamp, i.detection_status, i.detection_error,
		       d.id, d.bbox_x, d.bbox_y, d.bbox_w, d.bbox_h, d.confidence
		FROM images i
		LEFT JOIN character_detections d ON d.image_id = i.id
		WHERE i.id = ?
		ORDER BY d.id
	`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	defer rows.Close()

	var img *models.Image
	for rows.Next() {
		var (
			current    models.Image
			status     string
			detErr     sql.NullString
			detID      sql.NullInt64
			x, y, w, h sql.NullInt64
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&current.ID, &current.Filename, &current.FilePath, &current.Timestamp, &status, &detErr,
			&detID, &x, &y, &w, &h, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}

		if img == nil {
			current.Status = models.DetectionStatus(status)
			current.DetectionError = detErr.String
			current.Detections = []models.Detection{}
			img = &current
		}
		if !detID.Valid {
			continue
		}

		det := models.Detection{
			ID:      detID.Int64,
			ImageID: img.ID,
			X:       int(x.Int64),
			Y:       int(y.Int64),
			Width:   int(w.Int64),
			Height:  int(h.Int64),
		}
		if confidence.Valid {
			c := confidence.Float64
			det.Confidence = &c
		}
		img.Detections = append(img.Detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if img == nil {
		return nil, repository.ErrNotFound
	}
	return img, nil
}

// GetAll retrieves images newest first.
func (r *ImageRepository) GetAll(ctx context.Context, filter *models.ImageFilter) ([]models.Image, error) {
	query := `
		SELECT id, filename, filepath, timestamp, detection_status, detection_error
		FROM images
		ORDER BY timestamp DESC, id DESC
	`
	args := []interface{}{}

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter != nil && filter.Offset > 0 {
		// OFFSET needs a LIMIT on SQLite; -1 means unbounded there and
		// is rejected by PostgreSQL, which accepts ALL.
		if r.db.Dialect() == DialectPostgres {
			query += " LIMIT ALL"
		} else {
			query += " LIMIT -1"
		}
	}

	if filter != nil && filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	images := []models.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	return images, nil
}

// ExistsByPath checks if an image with the given file path is registered.
func (r *ImageRepository) ExistsByPath(ctx context.Context, filePath string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM images WHERE filepath = ?`), filePath).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check image existence: %w", err)
	}
	return count > 0, nil
}

// UpdateStatus records the outcome of a detection run.
func (r *ImageRepository) UpdateStatus(ctx context.Context, id int64, status models.DetectionStatus, detectionError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid detection status %q", status)
	}

	var errValue interface{}
	if detectionError != "" {
		errValue = detectionError
	}

	result, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		UPDATE images SET detection_status = ?, detection_error = ? WHERE id = ?
	`), string(status), errValue, id)
	if err != nil {
		return fmt.Errorf("failed to update image status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update image status: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*models.Image, error) {
	var (
		img    models.Image
		status string
		detErr sql.NullString
	)
	if err := row.Scan(&img.ID, &img.Filename, &img.FilePath, &img.Timestamp, &status, &detErr); err != nil {
		return nil, err
	}
	img.Status = models.DetectionStatus(status)
	img.DetectionError = detErr.String
	return &img, nil
}
