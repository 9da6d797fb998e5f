//go:build gocv
// +build gocv

package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// NetModel is an SSD-style detection network loaded through OpenCV DNN.
// Outputs are rows of [batch, class, score, left, top, right, bottom] with
// normalized coordinates.
type NetModel struct {
	net       gocv.Net
	inputSize int
	mu        sync.Mutex // SetInput+Forward is not safe to interleave
}

// LoadNetModel reads the network from its weights and graph config.
func LoadNetModel(modelPath, configPath string, inputSize int) (*NetModel, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: model file not found: %s", ErrModelUnavailable, modelPath)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: config file not found: %s", ErrModelUnavailable, configPath)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network", ErrModelUnavailable)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("%w: failed to set preferable backend or target", ErrModelUnavailable)
	}

	return &NetModel{net: net, inputSize: inputSize}, nil
}

// Predict decodes the file as 3-channel colour, normalizes it to [-1,1]
// in RGB order and runs a single forward pass.
func (m *NetModel) Predict(ctx context.Context, path string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrDecode, path)
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	m.mu.Unlock()
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("network returned no output for %s", path)
	}

	cols := float32(mat.Cols())
	rows := float32(mat.Rows())

	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	candidates := make([]Candidate, 0, reshaped.Rows())
	for i := 0; i < reshaped.Rows(); i++ {
		candidates = append(candidates, Candidate{
			ClassID: int(reshaped.GetFloatAt(i, 1)),
			Score:   reshaped.GetFloatAt(i, 2),
			X1:      reshaped.GetFloatAt(i, 3) * cols,
			Y1:      reshaped.GetFloatAt(i, 4) * rows,
			X2:      reshaped.GetFloatAt(i, 5) * cols,
			Y2:      reshaped.GetFloatAt(i, 6) * rows,
		})
	}
	return candidates, nil
}

// Close releases the network.
func (m *NetModel) Close() error {
	return m.net.Close()
}
