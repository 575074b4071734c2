package router

import "github.com/projectmitra/mitra-assist/internal/provider"

// state is where a fallback run stands.
type state int

const (
	// stateTrying: models[index] is the next one to attempt.
	stateTrying state = iota
	// stateSucceeded: winner holds the first successful outcome.
	stateSucceeded
	// stateExhausted: every model was attempted and failed, or there were
	// none to begin with.
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateTrying:
		return "trying"
	case stateSucceeded:
		return "succeeded"
	default:
		return "exhausted"
	}
}

// fallback is the state machine behind Route. It knows nothing about HTTP;
// the caller feeds it one outcome per attempt until it leaves stateTrying.
//
//	trying(i) --success--> succeeded
//	trying(i) --failure--> trying(i+1)   if i+1 < len(models)
//	trying(i) --failure--> exhausted     otherwise
type fallback struct {
	models   []string
	index    int
	attempts int
	state    state
	winner   provider.Outcome
}

func newFallback(models []string) *fallback {
	f := &fallback{models: models}
	if len(models) == 0 {
		f.state = stateExhausted
	}
	return f
}

// current is the model to attempt next. Only valid in stateTrying.
func (f *fallback) current() string {
	return f.models[f.index]
}

// observe advances the machine with the outcome for current(). Calls in any
// state other than stateTrying are ignored.
func (f *fallback) observe(out provider.Outcome) {
	if f.state != stateTrying {
		return
	}
	f.attempts++

	if out.OK() {
		f.winner = out
		f.state = stateSucceeded
		return
	}

	f.index++
	if f.index >= len(f.models) {
		f.state = stateExhausted
	}
}
