package judgment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// ErrParse is returned when a provider response contains no usable JSON object.
var ErrParse = errors.New("judgment: unparseable response")

// Input is the structured context handed to a judgment.
type Input struct {
	Current types.Sample
	// Window is the device history, oldest first. Only prediction reads it.
	Window []types.Sample
	// Ignored lists channels the healing supervisor has marked faulty.
	Ignored []types.Channel
}

// Predictor forecasts whether pollution levels will peak soon.
type Predictor interface {
	Predict(ctx context.Context, in Input) (types.Prediction, error)
}

// Classifier identifies the likely pollution source of the current sample.
type Classifier interface {
	Classify(ctx context.Context, in Input) (types.Classification, error)
}

// Decider produces the raw, unsnapped fan decision.
type Decider interface {
	Decide(ctx context.Context, in Input, p types.Prediction, c types.Classification) (types.RawDecision, error)
}

// LLM is a chat-completion transport: one system prompt, one user prompt, one
// text reply.
type LLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Agents implements Predictor, Classifier and Decider on top of one LLM.
type Agents struct {
	llm   LLM
	guard *Guard
}

// NewAgents returns Agents that route every call through guard. A nil guard
// calls the LLM directly.
func NewAgents(llm LLM, guard *Guard) *Agents {
	return &Agents{llm: llm, guard: guard}
}

// Predict implements Predictor.
func (a *Agents) Predict(ctx context.Context, in Input) (types.Prediction, error) {
	obj, err := a.ask(ctx, "predict", predictionSystem, predictionPrompt(in))
	if err != nil {
		return types.Prediction{}, err
	}
	return predictionFrom(obj), nil
}

// Classify implements Classifier.
func (a *Agents) Classify(ctx context.Context, in Input) (types.Classification, error) {
	obj, err := a.ask(ctx, "classify", classificationSystem, classificationPrompt(in))
	if err != nil {
		return types.Classification{}, err
	}
	c := classificationFrom(obj)
	if raw, ok := obj["air_type"].(string); ok && types.AirType(raw) != c.AirType {
		slog.Warn("judgment: invalid air_type, defaulting to unknown", "air_type", raw)
	}
	return c, nil
}

// Decide implements Decider.
func (a *Agents) Decide(ctx context.Context, in Input, p types.Prediction, c types.Classification) (types.RawDecision, error) {
	obj, err := a.ask(ctx, "decide", decisionSystem, decisionPrompt(in, p, c))
	if err != nil {
		return types.RawDecision{}, err
	}
	return decisionFrom(obj), nil
}

func (a *Agents) ask(ctx context.Context, op, system, user string) (map[string]any, error) {
	var reply string
	call := func(ctx context.Context) error {
		var err error
		reply, err = a.llm.Complete(ctx, system, user)
		return err
	}

	var err error
	if a.guard != nil {
		err = a.guard.Do(ctx, op, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("judgment: %s: %w", op, err)
	}

	obj, err := ParseObject(reply)
	if err != nil {
		slog.Error("judgment: response not parseable", "op", op, "preview", preview(reply, 200))
		return nil, fmt.Errorf("judgment: %s: %w", op, err)
	}
	return obj, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
