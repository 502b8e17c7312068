package dispatch

import (
	"fmt"
	"regexp"
)

// Command is one compiled, invocable method (or an endpoint's help command).
type Command struct {
	ID            string // namespace.method
	Origin        string // endpoint URL
	Method        string
	Help          string
	URL           string // invocation URL
	Source        string // method pattern as published by the endpoint
	ErrorResponse string
	Matcher       *regexp.Regexp
	IsHelp        bool

	helpText string // reply for help commands
}

// Kind classifies an invocation outcome.
type Kind string

const (
	KindResult  Kind = "result"  // result value sent as a normal message
	KindMessage Kind = "message" // remote error.message sent verbatim
	KindEmpty   Kind = "empty"   // result key present but null
	KindError   Kind = "error"   // InvocationError reported as "RPC error: ..."
	KindHelp    Kind = "help"
)

// Result is a classified invocation outcome.
type Result struct {
	Kind   Kind
	Text   string
	Status int   // HTTP status, 0 when no response arrived
	Err    error // set for KindError
}

// InvocationError is a per-call failure. It never affects other commands or endpoints.
type InvocationError struct {
	ID     string
	Reason string
	Err    error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invoke %s: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("invoke %s: %s", e.ID, e.Reason)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Explanation is the dry-run answer to "what would this text do".
type Explanation struct {
	Command Command
	Params  map[string]string
	Payload []byte
}
