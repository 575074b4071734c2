// Package provider talks to the upstream completion API.
//
// One call to Client.Attempt is one HTTP request to one named model. The
// result is always an Outcome value: provider failures (bad status, broken
// connection, useless body) are expected and reported as data rather than
// errors, because the router's whole job is to shrug them off and move on
// to the next model.
package provider

import (
	"context"
	"fmt"
)

// Attempter is the part of Client the router depends on. Tests substitute
// scripted implementations to control the per-model outcome sequence.
type Attempter interface {
	Attempt(ctx context.Context, model string, req *Request, creds Credentials) Outcome
}

// ---------------------------------------------------------------------------
// Request side
// ---------------------------------------------------------------------------

// TaskKind says which helper a request came from. It picks the prompt
// boilerplate, the attribution title and the shapes the normalizer tries.
type TaskKind int

const (
	TaskChat TaskKind = iota
	TaskCodeGen
)

func (k TaskKind) String() string {
	switch k {
	case TaskChat:
		return "chat"
	case TaskCodeGen:
		return "codegen"
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

// Request is one inbound completion request. It belongs to the handler that
// created it and is discarded once the response is written.
type Request struct {
	// Prompt is sent upstream as the sole user message. The HTTP layer has
	// already appended the task boilerplate to it.
	Prompt string

	Kind TaskKind

	// Origin is whatever the caller claimed as its origin. It's only used
	// to pick an allow-listed attribution value, never forwarded as-is.
	Origin string
}

// Credentials authenticate against the upstream API.
type Credentials struct {
	APIKey string
}

// Empty reports whether there is no usable credential.
func (c Credentials) Empty() bool {
	return c.APIKey == ""
}

// ---------------------------------------------------------------------------
// Outcome side
// ---------------------------------------------------------------------------

// Reason classifies a failed attempt.
type Reason int

const (
	// HTTPError: the upstream answered with a non-2xx status.
	HTTPError Reason = iota + 1
	// NetworkError: no usable HTTP response (DNS, reset, timeout, cancel).
	NetworkError
	// EmptyBody: a 2xx response with no assistant text we could extract.
	EmptyBody
)

// String returns the label used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case HTTPError:
		return "http_error"
	case NetworkError:
		return "network_error"
	case EmptyBody:
		return "empty_body"
	default:
		return "unknown"
	}
}

// Failure describes why an attempt did not produce text.
type Failure struct {
	Reason Reason
	Status int   // set for HTTPError
	Err    error // underlying cause, if any; for logs only
}

func (f *Failure) Error() string {
	switch {
	case f.Reason == HTTPError:
		return fmt.Sprintf("%s: status %d", f.Reason, f.Status)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	default:
		return f.Reason.String()
	}
}

// Outcome is the result of one attempt. Exactly one of Text (success) or
// Failure is meaningful: a nil Failure means success.
type Outcome struct {
	Model   string
	Text    string
	Failure *Failure
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Label is the outcome category for logs and metrics.
func (o Outcome) Label() string {
	if o.OK() {
		return "success"
	}
	return o.Failure.Reason.String()
}

// Success builds a successful Outcome.
func Success(model, text string) Outcome {
	return Outcome{Model: model, Text: text}
}

// Failed builds a failed Outcome.
func Failed(model string, reason Reason, status int, err error) Outcome {
	return Outcome{
		Model:   model,
		Failure: &Failure{Reason: reason, Status: status, Err: err},
	}
}
