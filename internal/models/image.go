package models

import "time"

// DetectionStatus tracks where an image is in the detection pipeline.
type DetectionStatus string

const (
	StatusPending  DetectionStatus = "pending"
	StatusComplete DetectionStatus = "complete"
	StatusFailed   DetectionStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DetectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Image represents an uploaded image record. ID is zero until the row is
// committed.
type Image struct {
	ID             int64           `json:"id"`
	Filename       string          `json:"filename"`
	FilePath       string          `json:"filepath"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         DetectionStatus `json:"detection_status"`
	DetectionError string          `json:"detection_error,omitempty"`
	Detections     []Detection     `json:"detections,omitempty"`
}

// ImageFilter contains pagination options for listing images.
type ImageFilter struct {
	Limit  int
	Offset int
}
