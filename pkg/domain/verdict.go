package domain

import "fmt"

// VerdictKind tags the outcome of handling one update.
type VerdictKind int

const (
	VerdictRetry VerdictKind = iota
	VerdictAdvance
	VerdictTerminal
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictAdvance:
		return "advance"
	case VerdictRetry:
		return "retry"
	case VerdictTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("verdict(%d)", int(k))
	}
}

// SavedValue is a value a behavior wants recorded in the KV log.
type SavedValue struct {
	Key   string
	Value string
}

// Verdict is the outcome of Behavior.Handle. Build it with Advance, Retry,
// RetryAndReprompt or Terminal.
type Verdict struct {
	Kind     VerdictKind
	Next     int
	Saved    *SavedValue
	Reason   string
	Reprompt bool
}

// Advance moves the chat to next, saving value if non-nil.
func Advance(next int, saved *SavedValue) Verdict {
	return Verdict{Kind: VerdictAdvance, Next: next, Saved: saved}
}

// Retry keeps the chat on its node and tells the user why.
func Retry(reason string) Verdict {
	return Verdict{Kind: VerdictRetry, Reason: reason}
}

// RetryAndReprompt is Retry followed by entering the node again.
func RetryAndReprompt(reason string) Verdict {
	return Verdict{Kind: VerdictRetry, Reason: reason, Reprompt: true}
}

// Terminal ends the flow for the chat, saving value if non-nil.
func Terminal(saved *SavedValue) Verdict {
	return Verdict{Kind: VerdictTerminal, Saved: saved}
}

// Save is shorthand for a SavedValue.
func Save(key, value string) *SavedValue {
	return &SavedValue{Key: key, Value: value}
}
