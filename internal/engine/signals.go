package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Signal is a control marker the agent prints inside <promise> tags.
type Signal int

const (
	SignalNone Signal = iota

	// SignalComplete closes the task the iteration worked on. The run
	// goes on with the next task.
	SignalComplete

	// SignalEject ends the run so a human can step in (large installs,
	// external setup).
	SignalEject

	// SignalBlocked ends the run because the agent cannot make progress.
	SignalBlocked
)

var signalWords = map[string]Signal{
	"COMPLETE": SignalComplete,
	"EJECT":    SignalEject,
	"BLOCKED":  SignalBlocked,
}

func (s Signal) String() string {
	for word, sig := range signalWords {
		if sig == s {
			return word
		}
	}
	return "NONE"
}

// ClosesTask reports whether the signal marks the current task done.
func (s Signal) ClosesTask() bool {
	return s == SignalComplete
}

// StopReason returns the reason the signal ends the run with, or "" if the
// run continues.
func (s Signal) StopReason() StopReason {
	switch s {
	case SignalEject:
		return StopEjected
	case SignalBlocked:
		return StopBlocked
	default:
		return ""
	}
}

// stopDetail describes a run-ending signal for RunResult.Detail.
func (s Signal) stopDetail(reason string) string {
	verb := "ejected"
	if s == SignalBlocked {
		verb = "blocked"
	}
	if reason == "" {
		return "agent " + verb
	}
	return fmt.Sprintf("agent %s: %s", verb, reason)
}

// promisePattern matches <promise>WORD</promise> and <promise>WORD: reason</promise>.
// The reason may span lines.
var promisePattern = regexp.MustCompile(`(?s)<promise>(COMPLETE|EJECT|BLOCKED)(?::(.*?))?</promise>`)

// ParseSignals returns the signal found in agent output and its reason.
// When several are present COMPLETE wins, so finished work is always
// closed; between the two stop signals EJECT wins over BLOCKED. A reason on
// COMPLETE is ignored.
func ParseSignals(output string) (Signal, string) {
	best, reason := SignalNone, ""
	for _, m := range promisePattern.FindAllStringSubmatch(output, -1) {
		sig := signalWords[m[1]]
		if best != SignalNone && !outranks(sig, best) {
			continue
		}
		best, reason = sig, strings.Join(strings.Fields(m[2]), " ")
	}
	if best == SignalComplete {
		reason = ""
	}
	return best, reason
}

var signalRank = map[Signal]int{SignalComplete: 3, SignalEject: 2, SignalBlocked: 1}

func outranks(a, b Signal) bool {
	return signalRank[a] > signalRank[b]
}
