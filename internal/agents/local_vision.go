//go:build cgo
// +build cgo

package agents

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// Model input geometry and the output alphabet of the bundled recognition
// model. The model emits per-timestep logits over the charset with index 0
// reserved for the blank token.
const (
	visionInputHeight = 48
	visionInputWidth  = 320
	visionTimesteps   = 80
)

const visionCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ .,%$€£¥-+/:()"

const localBaseConfidence = 0.75

// LocalVisionAgent recognizes region values with a local ONNX model. It
// needs CGO and the onnxruntime shared library.
type LocalVisionAgent struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	renderer     Renderer
	logger       *zap.Logger
	mu           sync.Mutex
}

// NewLocalVisionAgent loads the recognition model at modelPath.
func NewLocalVisionAgent(modelPath string, logger *zap.Logger) (*LocalVisionAgent, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, visionInputHeight*visionInputWidth)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 1, visionInputHeight, visionInputWidth), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, visionTimesteps*(len(visionCharset)+1))
	outputTensor, err := ort.NewTensor(ort.NewShape(1, visionTimesteps, int64(len(visionCharset)+1)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"image"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &LocalVisionAgent{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		renderer:     &fileRenderer{},
		logger:       logger,
	}, nil
}

func (a *LocalVisionAgent) Modality() models.Modality { return models.ModalityVision }
func (a *LocalVisionAgent) Confidence() float64       { return localBaseConfidence }

// Process recognizes each visual region locally. Regions the renderer
// cannot produce are skipped rather than failing the batch: local mode is
// the degraded path and partial output beats none.
func (a *LocalVisionAgent) Process(ctx context.Context, doc *models.Document) ([]models.ExtractionResult, error) {
	var results []models.ExtractionResult
	for _, page := range doc.Pages {
		for _, region := range page.Regions {
			if region.Type == models.RegionText {
				continue
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}

			img, err := a.renderer.Render(doc, region)
			if err != nil {
				continue
			}
			value, conf, err := a.recognize(img)
			if err != nil {
				return results, &models.AgentFailure{
					Kind: models.FailureUnavailable, Agent: "local_vision", Err: err,
				}
			}
			results = append(results, models.NewExtractionResult(
				region.ID, models.ModalityVision, "local", value, conf))
		}
	}
	return results, nil
}

// recognize runs one inference over the region image.
func (a *LocalVisionAgent) recognize(imgBytes []byte) (string, float64, error) {
	input, err := preprocess(imgBytes)
	if err != nil {
		return "", 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	copy(a.inputTensor.GetData(), input)
	if err := a.session.Run(); err != nil {
		return "", 0, fmt.Errorf("inference failed: %w", err)
	}
	value, conf := decodeGreedy(a.outputTensor.GetData())
	return value, conf, nil
}

// Close destroys the session and tensors.
func (a *LocalVisionAgent) Close() error {
	var err error
	if a.session != nil {
		err = a.session.Destroy()
		a.session = nil
	}
	if a.inputTensor != nil {
		_ = a.inputTensor.Destroy()
		a.inputTensor = nil
	}
	if a.outputTensor != nil {
		_ = a.outputTensor.Destroy()
		a.outputTensor = nil
	}
	return err
}

// preprocess decodes the image and scales it onto the model's fixed-size
// grayscale input, normalized to [0,1] with nearest-neighbor sampling.
func preprocess(imgBytes []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("decode region image: %w", err)
	}

	bounds := img.Bounds()
	out := make([]float32, visionInputHeight*visionInputWidth)
	for y := 0; y < visionInputHeight; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/visionInputHeight
		for x := 0; x < visionInputWidth; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/visionInputWidth
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			gray := (0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)) / 65535
			out[y*visionInputWidth+x] = gray
		}
	}
	return out, nil
}

// decodeGreedy collapses per-timestep argmax logits into a string, dropping
// blanks and repeats. Confidence is the mean probability of the kept steps,
// scaled by the agent baseline.
func decodeGreedy(logits []float32) (string, float64) {
	classes := len(visionCharset) + 1
	var b strings.Builder
	var probSum float64
	var kept int
	prev := -1

	for t := 0; t < visionTimesteps; t++ {
		row := logits[t*classes : (t+1)*classes]
		best, bestVal := 0, row[0]
		for i, v := range row {
			if v > bestVal {
				best, bestVal = i, v
			}
		}
		if best != 0 && best != prev {
			b.WriteByte(visionCharset[best-1])
			probSum += float64(softmaxAt(row, best))
			kept++
		}
		prev = best
	}

	if kept == 0 {
		return "", 0
	}
	return strings.TrimSpace(b.String()), localBaseConfidence * (probSum / float64(kept))
}

func softmaxAt(row []float32, idx int) float32 {
	max := row[0]
	for _, v := range row {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - max))
	}
	if sum == 0 {
		return 0
	}
	return float32(math.Exp(float64(row[idx]-max)) / sum)
}
