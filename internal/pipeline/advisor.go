package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// advisorTimeout bounds the annotation call; a slow model must never
// stall the trading cycle.
const advisorTimeout = 5 * time.Second

// Advisor enriches stage rationales with a language-model commentary.
// It is strictly advisory: verdicts are decided before the advisor runs,
// and any failure falls back to the deterministic rationale.
type Advisor struct {
	client *openai.Client
	model  string
	logger *log.Logger
}

// NewAdvisor creates an Advisor. An empty apiKey returns nil, which
// disables annotation entirely.
func NewAdvisor(apiKey, model string) *Advisor {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Advisor{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: log.New(os.Stdout, "[advisor] ", log.LstdFlags|log.Lshortfile),
	}
}

// Annotate asks the model to restate the rationale with market context.
// Safe on a nil receiver; returns the original rationale on any failure.
func (a *Advisor) Annotate(ctx context.Context, stage, rationale string, assessment *Assessment) string {
	if a == nil {
		return rationale
	}

	ctx, cancel := context.WithTimeout(ctx, advisorTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Stage %s judged a swap of %d base units %s -> %s: %s. "+
			"Restate this judgement in one sentence for a trade log.",
		stage,
		assessment.Order.AmountIn,
		assessment.Order.InputMint,
		assessment.Order.OutputMint,
		rationale,
	)

	resp, err := a.client.CreateChatCompletion(ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "You are a trading desk analyst writing terse decision logs."},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens: 80,
		},
	)
	if err != nil {
		a.logger.Printf("annotation failed for stage %s: %v", stage, err)
		return rationale
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return rationale
	}
	return resp.Choices[0].Message.Content
}
