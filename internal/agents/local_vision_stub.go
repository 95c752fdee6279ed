//go:build !cgo
// +build !cgo

package agents

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// LocalVisionAgent stub type when built without CGO (see local_vision.go
// for the real implementation).
type LocalVisionAgent struct{}

// NewLocalVisionAgent returns an error when built without CGO.
func NewLocalVisionAgent(_ string, _ *zap.Logger) (*LocalVisionAgent, error) {
	return nil, errors.New("local vision requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (a *LocalVisionAgent) Modality() models.Modality { return models.ModalityVision }
func (a *LocalVisionAgent) Confidence() float64       { return 0 }

func (a *LocalVisionAgent) Process(context.Context, *models.Document) ([]models.ExtractionResult, error) {
	return nil, errors.New("local vision not available in this build")
}

func (a *LocalVisionAgent) Close() error { return nil }
