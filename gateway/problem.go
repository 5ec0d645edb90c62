// Package gateway implements the inbound HTTP middleware stack and the
// operation registry that drives routing, RFC 9457 error mapping, and
// OpenAPI emission.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Problem is an RFC 9457 Problem Details document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is the structured extension Problem documents carry for
// request validation failures.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (p *Problem) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DomainError is implemented by errors that know their own HTTP mapping.
// Handlers that want a specific status/title/type return one of these;
// anything else becomes a generic 500.
type DomainError interface {
	error
	ProblemType() string
	ProblemTitle() string
	ProblemStatus() int
}

// ValidationFailure is a DomainError carrying field-level validation detail,
// mapped to 422.
type ValidationFailure struct {
	Detail string
	Errors []ValidationError
}

func (e *ValidationFailure) Error() string          { return e.Detail }
func (e *ValidationFailure) ProblemType() string     { return "https://foundrykit.dev/problems/validation-failure" }
func (e *ValidationFailure) ProblemTitle() string    { return "Validation Failed" }
func (e *ValidationFailure) ProblemStatus() int      { return http.StatusUnprocessableEntity }

// NotFound, Conflict, and Forbidden are small DomainError helpers for the
// common status mappings handlers reach for most often.
type NotFound struct{ Detail string }

func (e *NotFound) Error() string       { return e.Detail }
func (e *NotFound) ProblemType() string  { return "https://foundrykit.dev/problems/not-found" }
func (e *NotFound) ProblemTitle() string { return "Not Found" }
func (e *NotFound) ProblemStatus() int   { return http.StatusNotFound }

type Conflict struct{ Detail string }

func (e *Conflict) Error() string       { return e.Detail }
func (e *Conflict) ProblemType() string  { return "https://foundrykit.dev/problems/conflict" }
func (e *Conflict) ProblemTitle() string { return "Conflict" }
func (e *Conflict) ProblemStatus() int   { return http.StatusConflict }

type Forbidden struct{ Detail string }

func (e *Forbidden) Error() string       { return e.Detail }
func (e *Forbidden) ProblemType() string  { return "https://foundrykit.dev/problems/forbidden" }
func (e *Forbidden) ProblemTitle() string { return "Forbidden" }
func (e *Forbidden) ProblemStatus() int   { return http.StatusForbidden }

// mapError converts err to a Problem document. A DomainError is mapped
// directly; anything else becomes a 500 with a generic title, and the
// caller is expected to have already logged the correlation id.
func mapError(err error, instance string) *Problem {
	var de DomainError
	if errors.As(err, &de) {
		p := &Problem{
			Type:     de.ProblemType(),
			Title:    de.ProblemTitle(),
			Status:   de.ProblemStatus(),
			Detail:   de.Error(),
			Instance: instance,
		}
		var vf *ValidationFailure
		if errors.As(err, &vf) {
			p.Errors = vf.Errors
		}
		return p
	}
	return &Problem{
		Type:     "https://foundrykit.dev/problems/internal-error",
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Instance: instance,
	}
}

// WriteProblem writes a Problem+JSON document directly; handlers that want
// to short-circuit without going through panic/error-return recovery call
// this.
func WriteProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	(&Problem{
		Type:     "https://foundrykit.dev/problems/" + http.StatusText(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}).write(w)
}
