package models

// Detection represents one detected region of an image, in source pixels.
type Detection struct {
	ID         int64    `json:"id"`
	ImageID    int64    `json:"image_id"`
	X          int      `json:"bbox_x"`
	Y          int      `json:"bbox_y"`
	Width      int      `json:"bbox_w"`
	Height     int      `json:"bbox_h"`
	Confidence *float64 `json:"confidence"`
}

// DetectionEvent is published when a detection run for an image finishes.
type DetectionEvent struct {
	ImageID int64           `json:"image_id"`
	Status  DetectionStatus `json:"status"`
	Count   int             `json:"count"`
	Error   string          `json:"error,omitempty"`
}
