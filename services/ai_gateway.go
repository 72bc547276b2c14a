package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services/digitalocean"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
)

// PromptIntent tells the gateway what the call is for
type PromptIntent string

const (
	IntentConverse          PromptIntent = "converse"
	IntentGenerateStructure PromptIntent = "generate_structure"
	IntentRefineSection     PromptIntent = "refine_section"
	IntentRefineLesson      PromptIntent = "refine_lesson"
)

// Valid reports whether the intent is known
func (i PromptIntent) Valid() bool {
	switch i {
	case IntentConverse, IntentGenerateStructure, IntentRefineSection, IntentRefineLesson:
		return true
	}
	return false
}

// sampling returns the request options for an intent. Structure output has to
// parse, so those intents run cooler and get more room than chat.
func (i PromptIntent) sampling() []digitalocean.InferenceOption {
	switch i {
	case IntentGenerateStructure:
		return []digitalocean.InferenceOption{digitalocean.WithInferenceTemperature(0.4), digitalocean.WithInferenceMaxTokens(8192)}
	case IntentRefineSection, IntentRefineLesson:
		return []digitalocean.InferenceOption{digitalocean.WithInferenceTemperature(0.3), digitalocean.WithInferenceMaxTokens(4096)}
	default:
		return []digitalocean.InferenceOption{digitalocean.WithInferenceTemperature(0.7), digitalocean.WithInferenceMaxTokens(2048)}
	}
}

// ErrorClass classifies gateway failures
type ErrorClass string

const (
	ErrorClassTimeout     ErrorClass = "timeout"
	ErrorClassAuth        ErrorClass = "authentication"
	ErrorClassRateLimited ErrorClass = "rate_limited"
	ErrorClassMalformed   ErrorClass = "malformed_response"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// GatewayError is the only error type Send returns
type GatewayError struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("ai gateway %s after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Transient reports the classes that get an automatic retry
func (e *GatewayError) Transient() bool {
	return e.Class == ErrorClassTimeout || e.Class == ErrorClassRateLimited
}

// Retryable reports whether the caller may safely re-send the same turn.
// Nothing is persisted on a gateway failure, so only rejected credentials
// make a retry pointless.
func (e *GatewayError) Retryable() bool {
	return e.Class != ErrorClassAuth
}

// SessionContext is what the gateway needs to build a prompt
type SessionContext struct {
	Phase       model.Phase
	History     []model.ConversationMessage
	Facts       model.CourseFacts
	Structure   *model.CourseStructure
	UserMessage string
	Reference   string

	// Set for refine intents only
	CourseTitle  string
	FocusSection *model.Section
	FocusLesson  *model.Lesson
	Instruction  string
}

// GatewayResponse is a normalised completion
type GatewayResponse struct {
	Text       string
	Model      string
	TokensUsed int
	Attempts   int
}

// ChatCompleter is the slice of the inference client the gateway uses
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, messages []digitalocean.InferenceMessage, options ...digitalocean.InferenceOption) (*digitalocean.InferenceResponse, error)
}

// GatewayConfig tunes timeouts and retry waits
type GatewayConfig struct {
	Timeout time.Duration // per attempt
	Backoff digitalocean.BackoffConfig
}

// AIGateway sends session context to the language model
type AIGateway struct {
	client  ChatCompleter
	log     *utils.Logger
	timeout time.Duration
	backoff digitalocean.BackoffConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewAIGateway(client ChatCompleter, log *utils.Logger, config GatewayConfig) *AIGateway {
	if config.Timeout <= 0 {
		config.Timeout = 45 * time.Second
	}
	if config.Backoff.InitialBackoff <= 0 || config.Backoff.MaxBackoff <= 0 {
		config.Backoff = digitalocean.DefaultBackoffConfig()
	}
	return &AIGateway{
		client:  client,
		log:     log,
		timeout: config.Timeout,
		backoff: config.Backoff,
		sleep:   sleepContext,
	}
}

// Send calls the model once, retrying a single time on timeout or rate limiting
func (g *AIGateway) Send(ctx context.Context, sc SessionContext, intent PromptIntent) (*GatewayResponse, error) {
	if !intent.Valid() {
		return nil, &GatewayError{Class: ErrorClassUnknown, Err: fmt.Errorf("unknown intent %q", intent)}
	}
	messages := BuildPrompt(sc, intent)
	options := intent.sampling()

	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := g.attempt(ctx, messages, options)
		if err == nil {
			resp.Attempts = attempt
			g.log.Debug("AI call succeeded", "intent", intent, "attempt", attempt, "duration", time.Since(start))
			return resp, nil
		}

		gerr := classify(err)
		gerr.Attempts = attempt
		g.log.Warn("AI call failed", "intent", intent, "attempt", attempt, "class", gerr.Class, "error", err)

		if !gerr.Transient() || attempt >= maxAttempts || ctx.Err() != nil {
			return nil, gerr
		}

		wait := digitalocean.CalculateBackoff(attempt-1, g.backoff)
		var apiErr *digitalocean.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		if wait > g.backoff.MaxBackoff {
			wait = g.backoff.MaxBackoff
		}
		if err := g.sleep(ctx, wait); err != nil {
			return nil, gerr
		}
	}
}

func (g *AIGateway) attempt(ctx context.Context, messages []digitalocean.InferenceMessage, options []digitalocean.InferenceOption) (*GatewayResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.ChatCompletion(attemptCtx, messages, options...)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.ExtractContent())
	if text == "" {
		return nil, &digitalocean.DecodeError{Err: errors.New("empty completion")}
	}
	_, _, total := resp.GetUsage()
	return &GatewayResponse{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: total,
	}, nil
}

func classify(err error) *GatewayError {
	var apiErr *digitalocean.APIError
	var decodeErr *digitalocean.DecodeError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &GatewayError{Class: ErrorClassTimeout, Err: err}
	case errors.As(err, &apiErr):
		switch {
		case apiErr.IsAuthError():
			return &GatewayError{Class: ErrorClassAuth, Err: err}
		case apiErr.IsRateLimited():
			return &GatewayError{Class: ErrorClassRateLimited, Err: err}
		case apiErr.IsTimeout():
			return &GatewayError{Class: ErrorClassTimeout, Err: err}
		}
		return &GatewayError{Class: ErrorClassUnknown, Err: err}
	case errors.As(err, &decodeErr):
		return &GatewayError{Class: ErrorClassMalformed, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &GatewayError{Class: ErrorClassTimeout, Err: err}
	}
	return &GatewayError{Class: ErrorClassUnknown, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
