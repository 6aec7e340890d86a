// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Typed failures. Callers map these onto HTTP status codes: not
// configured 503, timeout 504, unavailable/throttled 502/429, CallError
// 502.
var (
	ErrNotConfigured = errors.New("ai: service not configured")
	ErrTimeout       = errors.New("ai: request timed out")
	ErrUnavailable   = errors.New("ai: service unavailable")
	ErrThrottled     = errors.New("ai: outbound rate limit reached")
)

// CallError wraps a transport, API, or reply-parsing failure for one
// named operation.
type CallError struct {
	Operation string
	Err       error
}

func (e *CallError) Error() string { return fmt.Sprintf("ai: %s: %v", e.Operation, e.Err) }
func (e *CallError) Unwrap() error { return e.Err }

// AnalysisRequest carries one captured runtime fault plus the source it
// occurred in. History holds the messages of recent earlier faults,
// oldest first.
type AnalysisRequest struct {
	Message  string
	Stack    string
	Line     int
	Column   int
	Code     string
	Language string
	History  []string
}

// FixSuggestion is one proposed remediation inside a DebugAnalysis.
type FixSuggestion struct {
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
	Line        int    `json:"line,omitempty"`
	Priority    int    `json:"priority"`
}

// DebugAnalysis is the structured reply for a runtime error analysis.
type DebugAnalysis struct {
	ErrorType      string          `json:"errorType"`
	RootCause      string          `json:"rootCause"`
	Explanation    string          `json:"explanation"`
	FixSuggestions []FixSuggestion `json:"fixSuggestions"`
	RelatedCode    string          `json:"relatedCode,omitempty"`
	Confidence     float64         `json:"confidence"`
}

// ReviewIssue is one finding from a code review pass.
type ReviewIssue struct {
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Suggestion string `json:"suggestion"`
}

// stripFences peels a markdown code fence off a model reply. Models
// asked for strict JSON still wrap it in ```json fences often enough
// that rejecting fenced replies would fail real traffic.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseReply[T any](operation, raw string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return out, &CallError{Operation: operation, Err: fmt.Errorf("parsing model reply: %w", err)}
	}
	return out, nil
}
