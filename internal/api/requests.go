// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/collabd/collabd/internal/validation"
)

// maxRequestBody bounds JSON request bodies. Large enough for the
// 10k source cap plus stack traces.
const maxRequestBody = 1 << 20

// ReviewRequest asks for a code review of a single source snippet.
type ReviewRequest struct {
	Code     string `json:"code" validate:"required,max=10000"`
	Language string `json:"language" validate:"required,max=40"`
	Focus    string `json:"focus" validate:"omitempty,oneof=correctness performance security style"`
}

// FaultPayload is a runtime error as reported by the execution host.
type FaultPayload struct {
	Message   string    `json:"message" validate:"required,max=2000"`
	Stack     string    `json:"stack" validate:"omitempty,max=20000"`
	Line      int       `json:"line" validate:"min=0"`
	Column    int       `json:"column" validate:"min=0"`
	FileName  string    `json:"fileName" validate:"omitempty,max=260"`
	Timestamp time.Time `json:"timestamp"`
}

// DebugAnalyzeRequest asks for a root-cause analysis of a fault. When
// errorHistory is present it overrides the server-tracked history.
type DebugAnalyzeRequest struct {
	Error        FaultPayload `json:"error" validate:"required"`
	Code         string       `json:"code" validate:"required,max=10000"`
	Language     string       `json:"language" validate:"required,max=40"`
	ErrorHistory []string     `json:"errorHistory" validate:"omitempty,max=10,dive,max=2000"`
}

// DebugStepsRequest asks for an ordered debugging checklist.
type DebugStepsRequest struct {
	Error    FaultPayload `json:"error" validate:"required"`
	Code     string       `json:"code" validate:"required,max=10000"`
	Language string       `json:"language" validate:"required,max=40"`
}

// decodeAndValidate parses the request body into dst and runs struct
// validation. It writes the error response itself and reports whether
// the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("invalid request body: %v", err), nil)
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
			"request validation failed", verr.Fields)
		return false
	}
	return true
}
