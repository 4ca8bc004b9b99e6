package models

import "strings"

// Stage is a position in the conversation funnel.
type Stage string

// Funnel stages, in order. StageUnderstandingDoubt is the only auxiliary stage;
// it is entered from StageOfferingHelp and always returns there.
const (
	StageGreeting           Stage = "greeting"
	StageListening          Stage = "listening"
	StageEmpathy            Stage = "empathy"
	StageOfferingHelp       Stage = "offering_help"
	StageUnderstandingDoubt Stage = "understanding_doubt"
	StageDiscussingValue    Stage = "discussing_value"
	StageAskingReadiness    Stage = "asking_readiness"
	StageSendingLink        Stage = "sending_link"
	StageAwaitingPayment    Stage = "awaiting_payment"
	StageWorking            Stage = "working"
)

// StageUnknown marks a stage value that could not be parsed. It is never stored.
const StageUnknown Stage = ""

var funnelOrder = map[Stage]int{
	StageGreeting:           0,
	StageListening:          1,
	StageEmpathy:            2,
	StageOfferingHelp:       3,
	StageUnderstandingDoubt: 3, // same rank as offering_help, it is a loop
	StageDiscussingValue:    4,
	StageAskingReadiness:    5,
	StageSendingLink:        6,
	StageAwaitingPayment:    7,
	StageWorking:            8,
}

// aliases accepted when reading persisted or legacy stage names.
var stageAliases = map[string]Stage{
	"problem_understood": StageEmpathy,
	"wisdom":             StageOfferingHelp,
	"offering":           StageOfferingHelp,
	"doubt":              StageUnderstandingDoubt,
}

// ParseStage maps a raw stage name to a Stage. Unrecognised names return
// StageUnknown and false.
func ParseStage(raw string) (Stage, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	s := Stage(name)
	if _, ok := funnelOrder[s]; ok {
		return s, true
	}
	if alias, ok := stageAliases[name]; ok {
		return alias, true
	}
	return StageUnknown, false
}

// Valid reports whether s is one of the funnel stages.
func (s Stage) Valid() bool {
	_, ok := funnelOrder[s]
	return ok
}

// Rank returns the position of s in the funnel, or -1 for unknown stages.
func (s Stage) Rank() int {
	r, ok := funnelOrder[s]
	if !ok {
		return -1
	}
	return r
}

// IsValidTransition reports whether moving from one stage to another respects
// the funnel: forward moves, staying put, the doubt loop and a restart to
// greeting are allowed; awaiting_payment may fall back to sending_link when the
// link was never sent.
func IsValidTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StageGreeting {
		return true
	}
	if from == StageAwaitingPayment && to == StageSendingLink {
		return true
	}
	return to.Rank() >= from.Rank()
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if s == StageUnknown {
		return "unknown"
	}
	return string(s)
}
