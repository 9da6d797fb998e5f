//go:build !gocv
// +build !gocv

package ai

import (
	"context"
	"fmt"
)

// NetModel is the placeholder used when the binary is built without OpenCV.
type NetModel struct{}

// LoadNetModel always fails without the gocv build tag.
func LoadNetModel(_, _ string, _ int) (*NetModel, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrModelUnavailable)
}

// Predict returns ErrModelUnavailable.
func (m *NetModel) Predict(_ context.Context, _ string) ([]Candidate, error) {
	return nil, ErrModelUnavailable
}

// Close is a no-op.
func (m *NetModel) Close() error {
	return nil
}
