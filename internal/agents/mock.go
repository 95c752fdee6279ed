package agents

import (
	"context"

	"github.com/veridoc/veridoc/internal/models"
)

// MockAgent returns canned results, for tests and dry runs.
type MockAgent struct {
	AgentModality models.Modality
	BaseConf      float64
	Results       []models.ExtractionResult
	Err           error
	Calls         int
}

func (m *MockAgent) Modality() models.Modality { return m.AgentModality }
func (m *MockAgent) Confidence() float64       { return m.BaseConf }

func (m *MockAgent) Process(ctx context.Context, _ *models.Document) ([]models.ExtractionResult, error) {
	m.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Results, m.Err
}
