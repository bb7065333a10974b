package oxy

import (
	"encoding/json"
	"fmt"
)

// State is the terminal or intermediate outcome of one dispatch run.
// It is a closed set of tagged values, not a free-form string.
type State int

const (
	// StateCompleted marks a successful terminal response.
	StateCompleted State = iota
	// StateFailed marks a terminal failure; Output carries a diagnostic
	// string. Callers must treat FAILED as valid data, not an exception.
	StateFailed
	// StateCanceled marks a call ended early by its cancel token.
	StateCanceled
	// StatePaused marks an agent suspended mid-reasoning, awaiting
	// external input before the loop resumes.
	StatePaused
	// StateRetry marks a non-terminal hint from an agent's reasoning
	// loop that the last step should be attempted again.
	StateRetry
)

var stateNames = map[State]string{
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCanceled:  "canceled",
	StatePaused:    "paused",
	StateRetry:     "retry",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state ends the dispatch run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Response is the outcome of one dispatch-pipeline run. It is created
// exactly once per run and owns a back-reference to its originating
// request. Immutable after assembly except for Extra, which post hooks
// may append to.
type Response struct {
	State  State
	Output any // string, list, or map
	Extra  map[string]any
	Req    *Request
}

// Failed reports whether the response is a failure.
func (r *Response) Failed() bool { return r.State == StateFailed }

// OutputString renders Output as a string: strings pass through,
// anything else is JSON-serialized. Nil output yields "".
func (r *Response) OutputString() string {
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// SetExtra records a key on the response's Extra map, allocating it on
// first use.
func (r *Response) SetExtra(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[key] = value
}

// failedResponse builds a FAILED response from err, attached to req.
func failedResponse(req *Request, err error) *Response {
	return &Response{State: StateFailed, Output: err.Error(), Req: req}
}
