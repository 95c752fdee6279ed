package agents

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// VisionClient is the slice of the OpenAI-compatible API the remote agent
// needs. Tests and local backends substitute their own.
type VisionClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Renderer turns a region into an image the vision model can read.
type Renderer interface {
	Render(doc *models.Document, region models.Region) ([]byte, error)
}

const (
	remoteBaseConfidence = 0.88
	// visionPrompt instructs the model to answer with a parseable pair.
	visionPrompt = "Extract the primary value shown in this document region. " +
		"Reply with exactly one line in the form VALUE :: CONFIDENCE where " +
		"CONFIDENCE is a number between 0 and 1."
)

// RemoteVisionAgent extracts region values through a remote vision-language
// endpoint speaking the OpenAI chat API.
type RemoteVisionAgent struct {
	client   VisionClient
	model    string
	renderer Renderer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRemoteVisionAgent builds the agent for an OpenAI-compatible endpoint.
// baseURL points at the remote gateway; apiKey may be empty for local
// gateways that skip auth.
func NewRemoteVisionAgent(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *RemoteVisionAgent {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &RemoteVisionAgent{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		renderer: &fileRenderer{},
		timeout:  timeout,
		logger:   logger,
	}
}

// NewRemoteVisionAgentWithClient wires an explicit client and renderer.
func NewRemoteVisionAgentWithClient(client VisionClient, model string, renderer Renderer, timeout time.Duration, logger *zap.Logger) *RemoteVisionAgent {
	return &RemoteVisionAgent{
		client:   client,
		model:    model,
		renderer: renderer,
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RemoteVisionAgent) Modality() models.Modality { return models.ModalityVision }
func (a *RemoteVisionAgent) Confidence() float64       { return remoteBaseConfidence }

// Process sends each visual region to the remote model. The first transport
// failure aborts the batch with a typed failure so the fallback manager can
// decide; results gathered before the failure are returned with it.
func (a *RemoteVisionAgent) Process(ctx context.Context, doc *models.Document) ([]models.ExtractionResult, error) {
	var results []models.ExtractionResult
	for _, page := range doc.Pages {
		for _, region := range page.Regions {
			if region.Type == models.RegionText {
				continue
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}

			value, conf, err := a.extractRegion(ctx, doc, region)
			if err != nil {
				return results, err
			}
			results = append(results, models.NewExtractionResult(
				region.ID, models.ModalityVision, "remote", value, conf))
		}
	}
	return results, nil
}

func (a *RemoteVisionAgent) extractRegion(ctx context.Context, doc *models.Document, region models.Region) (string, float64, error) {
	img, err := a.renderer.Render(doc, region)
	if err != nil {
		return "", 0, &models.AgentFailure{Kind: models.FailureUnavailable, Agent: "remote_vision", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
				}},
			},
		}},
	})
	if err != nil {
		return "", 0, classifyRemoteError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, &models.AgentFailure{
			Kind: models.FailureUnavailable, Agent: "remote_vision",
			Err: errors.New("empty completion"),
		}
	}

	value, conf := parseVisionReply(resp.Choices[0].Message.Content)
	if a.logger != nil {
		a.logger.Debug("remote vision extracted",
			zap.String("region_id", region.ID),
			zap.Float64("confidence", conf))
	}
	return value, conf, nil
}

// classifyRemoteError maps transport errors to failure kinds the fallback
// manager understands.
func classifyRemoteError(err error) error {
	kind := models.FailureUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = models.FailureTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		kind = models.FailureResourceExhaustion
	}
	return &models.AgentFailure{Kind: kind, Agent: "remote_vision", Err: err}
}

// parseVisionReply splits "VALUE :: CONFIDENCE". A reply without the
// trailing confidence keeps the whole line as the value at the agent's
// baseline.
func parseVisionReply(content string) (string, float64) {
	content = strings.TrimSpace(content)
	if idx := strings.LastIndex(content, "::"); idx >= 0 {
		value := strings.TrimSpace(content[:idx])
		if conf, err := strconv.ParseFloat(strings.TrimSpace(content[idx+2:]), 64); err == nil && value != "" {
			if conf < 0 {
				conf = 0
			}
			if conf > 1 {
				conf = 1
			}
			return value, conf
		}
	}
	return content, remoteBaseConfidence
}

// fileRenderer serves image files whole. Region cropping from paged formats
// needs a rasterizer, which local deployments plug in via Renderer.
type fileRenderer struct{}

func (fileRenderer) Render(doc *models.Document, region models.Region) ([]byte, error) {
	ext := strings.ToLower(doc.Path)
	if strings.HasSuffix(ext, ".png") || strings.HasSuffix(ext, ".jpg") || strings.HasSuffix(ext, ".jpeg") {
		return os.ReadFile(doc.Path)
	}
	return nil, fmt.Errorf("no renderer for region %s in %s", region.ID, doc.Path)
}
