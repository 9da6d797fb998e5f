package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"imagedetect/internal/apperrors"
	"imagedetect/internal/logger"
	"imagedetect/internal/models"
	"imagedetect/internal/repository"
	"imagedetect/internal/services/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Scheduler starts background detection for a committed image.
type Scheduler interface {
	ScheduleDetection(img *models.Image) bool
}

// ImageDetail is the read-by-id body. Detections is always present, empty
// when nothing qualified.
type ImageDetail struct {
	*models.Image
	Detections []models.Detection `json:"detections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UploadImageHandler stores the multipart "file" field, commits an Image
// row and only then schedules detection for it. The response does not wait
// for detection.
func UploadImageHandler(images repository.ImageRepository, files *storage.FileStore, scheduler Scheduler, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, logger, apperrors.NewTooLargeError("upload exceeds size limit", err))
				return
			}
			respondError(c, logger, apperrors.NewValidationError("multipart field 'file' is required", err))
			return
		}

		src, err := header.Open()
		if err != nil {
			respondError(c, logger, apperrors.NewStorageError("Could not save file", err))
			return
		}
		filename, path, err := files.Save(header.Filename, src)
		src.Close()
		if err != nil {
			respondError(c, logger, apperrors.NewStorageError("Could not save file", err))
			return
		}

		img := &models.Image{Filename: filename, FilePath: path}
		if _, err := images.Insert(c.Request.Context(), img); err != nil {
			if rmErr := files.Remove(path); rmErr != nil {
				logger.Error("Failed to remove %s after insert error: %v", path, rmErr)
			}
			respondError(c, logger, apperrors.NewStorageError("Could not save image metadata to DB", err))
			return
		}

		logger.WithFields(logrus.Fields{
			"image_id":   img.ID,
			"filename":   img.Filename,
			"size_bytes": header.Size,
		}).Info("Image stored")

		scheduler.ScheduleDetection(img)

		c.JSON(http.StatusOK, img)
	}
}

// ListImagesHandler returns images newest first, paginated by skip/limit.
func ListImagesHandler(images repository.ImageRepository, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		skip := atoiNonNegative(c.Query("skip"), 0)
		limit := atoiDefault(c.Query("limit"), defaultListLimit)
		if limit > maxListLimit {
			limit = maxListLimit
		}

		list, err := images.GetAll(c.Request.Context(), &models.ImageFilter{Limit: limit, Offset: skip})
		if err != nil {
			respondError(c, logger, apperrors.NewInternalError("Could not list images", err))
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// GetImageHandler returns one image together with its detections.
func GetImageHandler(images repository.ImageRepository, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseImageID(c, logger)
		if !ok {
			return
		}

		img, err := images.GetWithDetections(c.Request.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, logger, apperrors.NewNotFoundError("Image not found", nil))
			return
		}
		if err != nil {
			respondError(c, logger, apperrors.NewInternalError("Could not load image", err))
			return
		}

		detail := ImageDetail{Image: img, Detections: img.Detections}
		if detail.Detections == nil {
			detail.Detections = []models.Detection{}
		}
		c.JSON(http.StatusOK, detail)
	}
}

// ImageFileHandler serves the stored bytes of an image.
func ImageFileHandler(images repository.ImageRepository, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseImageID(c, logger)
		if !ok {
			return
		}

		img, err := images.GetByID(c.Request.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, logger, apperrors.NewNotFoundError("Image not found", nil))
			return
		}
		if err != nil {
			respondError(c, logger, apperrors.NewInternalError("Could not load image", err))
			return
		}

		if _, err := os.Stat(img.FilePath); err != nil {
			respondError(c, logger, apperrors.NewNotFoundError("Image file not found", err))
			return
		}
		c.File(img.FilePath)
	}
}

// HealthHandler reports liveness.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseImageID(c *gin.Context, logger *logger.Logger) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, logger, apperrors.NewValidationError("invalid image id", err))
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, logger *logger.Logger, err error) {
	code := apperrors.GetStatusCode(err)

	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func atoiNonNegative(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
