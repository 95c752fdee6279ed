package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veridoc/veridoc/internal/models"
)

type fakeVisionClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeVisionClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: f.reply},
		}},
	}, nil
}

type byteRenderer struct{ img []byte }

func (r byteRenderer) Render(*models.Document, models.Region) ([]byte, error) {
	return r.img, nil
}

func chartDoc(t *testing.T) *models.Document {
	t.Helper()
	doc := models.NewDocument("/data/inbox/chart.png", "fp-chart", 0)
	doc.Pages = []models.Page{{Number: 1, Width: 612, Height: 792}}
	if _, err := doc.Pages[0].AddRegion(models.BoundingBox{Width: 612, Height: 792}, models.RegionChart); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestRemoteVisionExtract(t *testing.T) {
	client := &fakeVisionClient{reply: "$5.2M :: 0.91"}
	agent := NewRemoteVisionAgentWithClient(client, "qwen-vl-chat", byteRenderer{img: []byte{1}}, time.Second, nil)

	results, err := agent.Process(context.Background(), chartDoc(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Value != "$5.2M" {
		t.Errorf("value = %q, want $5.2M", results[0].Value)
	}
	if results[0].Confidence != 0.91 {
		t.Errorf("confidence = %g, want 0.91", results[0].Confidence)
	}
	if results[0].Modality != models.ModalityVision || results[0].Method != "remote" {
		t.Errorf("modality=%v method=%q", results[0].Modality, results[0].Method)
	}
}

func TestRemoteVisionSkipsTextRegions(t *testing.T) {
	doc := models.NewDocument("/data/inbox/letter.pdf", "fp", 0)
	doc.Pages = []models.Page{{Number: 1, Width: 612, Height: 792}}
	if _, err := doc.Pages[0].AddRegion(models.BoundingBox{Width: 612, Height: 792}, models.RegionText); err != nil {
		t.Fatal(err)
	}

	client := &fakeVisionClient{reply: "ignored"}
	agent := NewRemoteVisionAgentWithClient(client, "m", byteRenderer{}, time.Second, nil)
	results, err := agent.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results) != 0 || client.calls != 0 {
		t.Errorf("text region reached the remote model: results=%d calls=%d", len(results), client.calls)
	}
}

func TestRemoteVisionTimeoutFailure(t *testing.T) {
	client := &fakeVisionClient{err: context.DeadlineExceeded}
	agent := NewRemoteVisionAgentWithClient(client, "m", byteRenderer{img: []byte{1}}, time.Second, nil)

	_, err := agent.Process(context.Background(), chartDoc(t))
	var failure *models.AgentFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err %T is not an AgentFailure", err)
	}
	if failure.Kind != models.FailureTimeout {
		t.Errorf("kind = %v, want timeout", failure.Kind)
	}
}

func TestClassifyRemoteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{"deadline", context.DeadlineExceeded, models.FailureTimeout},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, models.FailureResourceExhaustion},
		{"server error", &openai.APIError{HTTPStatusCode: 502}, models.FailureUnavailable},
		{"plain error", errors.New("connection refused"), models.FailureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failure *models.AgentFailure
			if !errors.As(classifyRemoteError(tt.err), &failure) {
				t.Fatal("not an AgentFailure")
			}
			if failure.Kind != tt.want {
				t.Errorf("kind = %v, want %v", failure.Kind, tt.want)
			}
		})
	}
}

func TestParseVisionReply(t *testing.T) {
	tests := []struct {
		in       string
		wantVal  string
		wantConf float64
	}{
		{"$5.2M :: 0.91", "$5.2M", 0.91},
		{"150 :: 1.5", "150", 1},
		{"plain answer", "plain answer", remoteBaseConfidence},
		{"a :: b :: 0.5", "a :: b", 0.5},
	}
	for _, tt := range tests {
		val, conf := parseVisionReply(tt.in)
		if val != tt.wantVal || conf != tt.wantConf {
			t.Errorf("parseVisionReply(%q) = (%q, %g), want (%q, %g)",
				tt.in, val, conf, tt.wantVal, tt.wantConf)
		}
	}
}
