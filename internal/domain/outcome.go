package domain

import (
	"fmt"
	"strings"
)

// Outcome is both the bet selector (HOME, AWAY, DRAW) and the resolved
// winner of a pool (which may additionally be CANCEL).
type Outcome uint8

const (
	OutcomeNone   Outcome = 0
	OutcomeHome   Outcome = 1
	OutcomeAway   Outcome = 2
	OutcomeDraw   Outcome = 3
	OutcomeCancel Outcome = 4
)

// BetOutcomes lists the three selectors a participant can stake on.
var BetOutcomes = [3]Outcome{OutcomeHome, OutcomeAway, OutcomeDraw}

// Bettable reports whether o is a valid stake selector.
func (o Outcome) Bettable() bool {
	return o >= OutcomeHome && o <= OutcomeDraw
}

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeHome:
		return "home"
	case OutcomeAway:
		return "away"
	case OutcomeDraw:
		return "draw"
	case OutcomeCancel:
		return "cancel"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// ParseOutcome accepts either the numeric selector ("1".."4") or its name.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "home":
		return OutcomeHome, nil
	case "2", "away":
		return OutcomeAway, nil
	case "3", "draw":
		return OutcomeDraw, nil
	case "4", "cancel":
		return OutcomeCancel, nil
	case "0", "none", "":
		return OutcomeNone, nil
	}
	return OutcomeNone, fmt.Errorf("domain: unknown outcome %q", s)
}

// OutcomeFromResult maps an oracle result code to the pool winner. Codes
// 1..3 name the winning side; 4 and every unrecognised code mean CANCEL so
// that funds always stay recoverable.
func OutcomeFromResult(code int64) Outcome {
	switch code {
	case 1:
		return OutcomeHome
	case 2:
		return OutcomeAway
	case 3:
		return OutcomeDraw
	default:
		return OutcomeCancel
	}
}

// PoolState is the lifecycle stage of a pool.
type PoolState uint8

const (
	PoolStateOpen        PoolState = 0
	PoolStateCalculating PoolState = 1
	PoolStateEnded       PoolState = 2
	PoolStateCancelled   PoolState = 3
)

func (s PoolState) String() string {
	switch s {
	case PoolStateOpen:
		return "open"
	case PoolStateCalculating:
		return "calculating"
	case PoolStateEnded:
		return "ended"
	case PoolStateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParsePoolState is the inverse of PoolState.String.
func ParsePoolState(s string) (PoolState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return PoolStateOpen, nil
	case "calculating":
		return PoolStateCalculating, nil
	case "ended":
		return PoolStateEnded, nil
	case "cancelled":
		return PoolStateCancelled, nil
	}
	return PoolStateOpen, fmt.Errorf("domain: unknown pool state %q", s)
}

// Terminal reports whether no further stake, upkeep or oracle activity is
// possible. Withdrawals remain open.
func (s PoolState) Terminal() bool {
	return s == PoolStateEnded || s == PoolStateCancelled
}
