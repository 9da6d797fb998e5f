//go:build !gocv
// +build !gocv

package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadNetModel_WithoutGoCV(t *testing.T) {
	model, err := LoadNetModel("model.pb", "model.pbtxt", 300)
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.Nil(t, model)
}

func TestNetModelStub_PredictAndClose(t *testing.T) {
	model := &NetModel{}
	_, err := model.Predict(context.Background(), "photo.jpg")
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.NoError(t, model.Close())
}
