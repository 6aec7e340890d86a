// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabd/collabd/internal/ai"
	"github.com/collabd/collabd/internal/logging"
)

// Storage bounds and the identical-fault collapse window.
const (
	DedupWindow     = 5 * time.Second
	MaxActive       = 20
	MaxHistory      = 10
	analysisHistory = 5
)

var (
	ErrFaultNotFound    = errors.New("capture: fault not found")
	ErrFaultDismissed   = errors.New("capture: fault is dismissed")
	ErrAnalysisInFlight = errors.New("capture: analysis already in flight")
)

// RuntimeFault is one raw error report from the execution host.
type RuntimeFault struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Line      int       `json:"line,omitempty"`
	Column    int       `json:"column,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DebuggedFault is the tracked unit: a fault plus its analysis
// lifecycle. Dismissed entries leave the active view but stay in the
// tracked list until evicted by the cap.
type DebuggedFault struct {
	ID        string            `json:"id"`
	Fault     RuntimeFault      `json:"fault"`
	Analyzing bool              `json:"analyzing"`
	Dismissed bool              `json:"dismissed"`
	Analysis  *ai.DebugAnalysis `json:"analysis,omitempty"`
}

// Analyzer issues one upstream analysis call. *ai.Client satisfies it.
type Analyzer interface {
	AnalyzeRuntimeError(ctx context.Context, req ai.AnalysisRequest) (*ai.DebugAnalysis, error)
}

// Engine tracks faults and coordinates their analysis. Safe for
// concurrent use; the lock is never held across the upstream call.
type Engine struct {
	analyzer Analyzer
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	entries []*DebuggedFault // oldest first
	history []RuntimeFault   // most recent first

	lastMessage string
	lastAt      time.Time
	lastID      string
}

// NewEngine builds an Engine around the given analyzer.
func NewEngine(analyzer Analyzer) *Engine {
	return &Engine{
		analyzer: analyzer,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Capture records one fault and returns its tracked id. A fault whose
// message matches the most recently created entry inside that entry's
// dedup window is collapsed into it and returns its id. The raw fault
// still lands in the rolling history either way.
func (e *Engine) Capture(fault RuntimeFault) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if fault.Timestamp.IsZero() {
		fault.Timestamp = now
	}

	e.history = append([]RuntimeFault{fault}, e.history...)
	if len(e.history) > MaxHistory {
		e.history = e.history[:MaxHistory]
	}

	// The window is anchored at the entry that opened it, not at the
	// latest duplicate, so a steadily recurring fault resurfaces as a
	// new entry once the window elapses.
	if e.lastID != "" && fault.Message == e.lastMessage && now.Sub(e.lastAt) < DedupWindow {
		return e.lastID
	}

	entry := &DebuggedFault{ID: e.newID(), Fault: fault}
	e.entries = append(e.entries, entry)
	if len(e.entries) > MaxActive {
		e.entries = e.entries[len(e.entries)-MaxActive:]
	}

	e.lastMessage = fault.Message
	e.lastAt = now
	e.lastID = entry.ID

	logging.Debug().Str("fault_id", entry.ID).Str("message", fault.Message).Msg("Captured runtime fault")
	return entry.ID
}

// RequestAnalysis runs one upstream analysis for a tracked fault and
// stores the result. A call for an entry already being analyzed returns
// ErrAnalysisInFlight without issuing a duplicate upstream request. On
// any failure, including timeout, the entry returns to its idle state
// so the caller can retry.
func (e *Engine) RequestAnalysis(ctx context.Context, id, code, language string) (*ai.DebugAnalysis, error) {
	e.mu.Lock()
	entry := e.findLocked(id)
	if entry == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrFaultNotFound, id)
	}
	if entry.Dismissed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrFaultDismissed, id)
	}
	if entry.Analyzing {
		e.mu.Unlock()
		return nil, ErrAnalysisInFlight
	}
	entry.Analyzing = true
	req := ai.AnalysisRequest{
		Message:  entry.Fault.Message,
		Stack:    entry.Fault.Stack,
		Line:     entry.Fault.Line,
		Column:   entry.Fault.Column,
		Code:     code,
		Language: language,
		History:  e.historyMessagesLocked(id),
	}
	e.mu.Unlock()

	analysis, err := e.analyzer.AnalyzeRuntimeError(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	entry.Analyzing = false
	if err != nil {
		logging.Warn().Err(err).Str("fault_id", id).Msg("Fault analysis failed")
		return nil, fmt.Errorf("analyzing fault %s: %w", id, err)
	}
	entry.Analysis = analysis
	return analysis, nil
}

// Dismiss marks a fault as handled. Terminal per id.
func (e *Engine) Dismiss(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry := e.findLocked(id)
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrFaultNotFound, id)
	}
	entry.Dismissed = true
	return nil
}

// Clear drops all tracked faults and the rolling history.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	e.history = nil
	e.lastMessage = ""
	e.lastAt = time.Time{}
	e.lastID = ""
}

// Active returns the non-dismissed tracked faults, newest first.
func (e *Engine) Active() []DebuggedFault {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DebuggedFault, 0, len(e.entries))
	for i := len(e.entries) - 1; i >= 0; i-- {
		if !e.entries[i].Dismissed {
			out = append(out, *e.entries[i])
		}
	}
	return out
}

// Faults returns every tracked fault, dismissed included, newest first.
func (e *Engine) Faults() []DebuggedFault {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DebuggedFault, 0, len(e.entries))
	for i := len(e.entries) - 1; i >= 0; i-- {
		out = append(out, *e.entries[i])
	}
	return out
}

// History returns the rolling raw fault history, most recent first.
func (e *Engine) History() []RuntimeFault {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RuntimeFault, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) findLocked(id string) *DebuggedFault {
	for _, entry := range e.entries {
		if entry.ID == id {
			return entry
		}
	}
	return nil
}

// historyMessagesLocked collects the most recent prior fault messages
// for analysis context, oldest first, skipping the fault under
// analysis itself.
func (e *Engine) historyMessagesLocked(excludeID string) []string {
	var (
		excludeMsg string
		mustSkip   bool
	)
	if entry := e.findLocked(excludeID); entry != nil {
		excludeMsg = entry.Fault.Message
		mustSkip = true
	}
	var msgs []string
	for _, fault := range e.history {
		if len(msgs) == analysisHistory {
			break
		}
		// Skip only the first occurrence of the analyzed fault's own
		// message.
		if mustSkip && fault.Message == excludeMsg {
			mustSkip = false
			continue
		}
		msgs = append(msgs, fault.Message)
	}
	// history is most-recent-first; prompts want oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
