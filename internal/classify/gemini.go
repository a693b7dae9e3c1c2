package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"teller/internal/logging"
)

// Gemini classifies intents with the Gemini API. Failures degrade to the
// keyword classifier so a flaky provider never blocks a turn.
type Gemini struct {
	client   *genai.Client
	model    string
	timeout  time.Duration
	fallback *Keyword
	log      *zap.Logger
}

// NewGemini creates a Gemini-backed classifier.
func NewGemini(apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client:   client,
		model:    model,
		timeout:  timeout,
		fallback: NewKeyword(),
		log:      logging.Get(logging.CategoryClassify),
	}, nil
}

type prediction struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

const classifyPrompt = `Classify the banking intent of the user message.
Known intents: transfer, bill_payment, balance_inquiry.
Reply with JSON only: {"intent": "<intent or empty string>", "confidence": <0.0-1.0>}.

Message: %q`

// Predict asks Gemini for a label and confidence. Any error or unparseable
// reply falls back to the keyword classifier.
func (g *Gemini) Predict(ctx context.Context, text string) (string, float64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(fmt.Sprintf(classifyPrompt, text)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		g.log.Warn("Gemini classification failed, using keyword fallback", zap.Error(err))
		return g.fallback.Predict(ctx, text)
	}

	raw := strings.TrimSpace(resp.Text())
	var pred prediction
	if err := json.Unmarshal([]byte(raw), &pred); err != nil {
		g.log.Warn("unparseable Gemini prediction, using keyword fallback",
			zap.String("raw", raw), zap.Error(err))
		return g.fallback.Predict(ctx, text)
	}

	if pred.Confidence < 0 {
		pred.Confidence = 0
	}
	if pred.Confidence > 1 {
		pred.Confidence = 1
	}
	return pred.Intent, pred.Confidence, nil
}
