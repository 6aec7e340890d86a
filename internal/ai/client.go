// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/metrics"
)

// Defaults applied by NewClient for zero config fields.
const (
	DefaultModel             = "gpt-4o-mini"
	DefaultTimeout           = 30 * time.Second
	DefaultMaxSourceChars    = 10000
	DefaultRequestsPerMinute = 60
	defaultHistoryLimit      = 5
)

// Config holds upstream connection settings. An empty APIKey leaves the
// client unconfigured; every call then fails with ErrNotConfigured so
// the rest of the process keeps running without analysis support.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	MaxSourceChars    int
	RequestsPerMinute int
}

// Client calls the analysis upstream. Safe for concurrent use.
type Client struct {
	cfg     Config
	api     *openai.Client
	cb      *gobreaker.CircuitBreaker[string]
	limiter *rate.Limiter
}

// NewClient builds a Client. BaseURL overrides the provider endpoint,
// which is also how tests point the client at an httptest upstream.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSourceChars <= 0 {
		cfg.MaxSourceChars = DefaultMaxSourceChars
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
	}

	if cfg.APIKey != "" {
		apiCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			apiCfg.BaseURL = cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(apiCfg)
	}

	c.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "analysis-upstream",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Analysis upstream circuit state change")
		},
	})
	return c
}

// Configured reports whether an API key was provided.
func (c *Client) Configured() bool { return c.api != nil }

// AnalyzeRuntimeError asks the upstream to explain a captured runtime
// fault and propose fixes.
func (c *Client) AnalyzeRuntimeError(ctx context.Context, req AnalysisRequest) (*DebugAnalysis, error) {
	raw, err := c.complete(ctx, "analyze", analysisSystemPrompt, c.analysisUserPrompt(req))
	if err != nil {
		return nil, err
	}
	analysis, err := parseReply[DebugAnalysis]("analyze", raw)
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// SuggestDebugSteps asks the upstream for a short ordered list of
// concrete debugging steps for a fault.
func (c *Client) SuggestDebugSteps(ctx context.Context, req AnalysisRequest) ([]string, error) {
	raw, err := c.complete(ctx, "debug_steps", debugStepsSystemPrompt, c.debugStepsUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseReply[[]string]("debug_steps", raw)
}

// ReviewCode asks the upstream to review a source snippet. Focus
// optionally narrows the review ("performance", "security", ...).
func (c *Client) ReviewCode(ctx context.Context, code, language, focus string) ([]ReviewIssue, error) {
	raw, err := c.complete(ctx, "review", reviewSystemPrompt, c.reviewUserPrompt(code, language, focus))
	if err != nil {
		return nil, err
	}
	return parseReply[[]ReviewIssue]("review", raw)
}

// complete runs one chat completion through the limiter, the breaker,
// and the per-call timeout, and classifies failures.
func (c *Client) complete(ctx context.Context, operation, system, user string) (string, error) {
	if c.api == nil {
		metrics.AIRequests.WithLabelValues(operation, "not_configured").Inc()
		return "", ErrNotConfigured
	}
	if !c.limiter.Allow() {
		metrics.AIRequests.WithLabelValues(operation, "throttled").Inc()
		return "", ErrThrottled
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	content, err := c.cb.Execute(func() (string, error) {
		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("upstream returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	metrics.AIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome, typed := classify(operation, callCtx, err)
		metrics.AIRequests.WithLabelValues(operation, outcome).Inc()
		logging.Warn().Err(err).Str("operation", operation).Msg("Analysis request failed")
		return "", typed
	}

	metrics.AIRequests.WithLabelValues(operation, "success").Inc()
	return content, nil
}

func classify(operation string, callCtx context.Context, err error) (outcome string, typed error) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected", ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded), callCtx.Err() == context.DeadlineExceeded:
		return "timeout", ErrTimeout
	default:
		return "failure", &CallError{Operation: operation, Err: err}
	}
}

// truncateSource caps the source excerpt included in a prompt. Fault
// messages and stacks stay intact; only the code body is bounded.
func (c *Client) truncateSource(code string) string {
	if len(code) <= c.cfg.MaxSourceChars {
		return code
	}
	return code[:c.cfg.MaxSourceChars] + "\n... [truncated]"
}

func recentHistory(history []string) []string {
	if len(history) <= defaultHistoryLimit {
		return history
	}
	return history[len(history)-defaultHistoryLimit:]
}

const analysisSystemPrompt = `You are a debugging assistant embedded in a collaborative code editor.
Reply with strict JSON only, matching:
{"errorType": string, "rootCause": string, "explanation": string,
 "fixSuggestions": [{"description": string, "code": string, "line": number, "priority": number}],
 "relatedCode": string, "confidence": number}`

const debugStepsSystemPrompt = `You are a debugging assistant embedded in a collaborative code editor.
Reply with strict JSON only: an array of short, concrete debugging steps as strings, most useful first.`

const reviewSystemPrompt = `You are a code reviewer embedded in a collaborative code editor.
Reply with strict JSON only: an array of
{"line": number, "severity": "info"|"warning"|"error", "title": string, "suggestion": string}.`

func (c *Client) analysisUserPrompt(req AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A %s program raised a runtime error.\n\nError: %s\n", orUnknown(req.Language), req.Message)
	if req.Line > 0 {
		fmt.Fprintf(&b, "Location: line %d, column %d\n", req.Line, req.Column)
	}
	if req.Stack != "" {
		fmt.Fprintf(&b, "Stack:\n%s\n", req.Stack)
	}
	if history := recentHistory(req.History); len(history) > 0 {
		b.WriteString("\nRecent earlier errors in this session:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}
	fmt.Fprintf(&b, "\nSource:\n%s\n", c.truncateSource(req.Code))
	return b.String()
}

func (c *Client) debugStepsUserPrompt(req AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest debugging steps for this %s error.\n\nError: %s\n", orUnknown(req.Language), req.Message)
	if req.Stack != "" {
		fmt.Fprintf(&b, "Stack:\n%s\n", req.Stack)
	}
	fmt.Fprintf(&b, "\nSource:\n%s\n", c.truncateSource(req.Code))
	return b.String()
}

func (c *Client) reviewUserPrompt(code, language, focus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this %s code.\n", orUnknown(language))
	if focus != "" {
		fmt.Fprintf(&b, "Focus on: %s\n", focus)
	}
	fmt.Fprintf(&b, "\nSource:\n%s\n", c.truncateSource(code))
	return b.String()
}

func orUnknown(language string) string {
	if language == "" {
		return "unknown-language"
	}
	return language
}
