package conversation

import "github.com/BTreeMap/RecruitPipe/internal/models"

// Action is the terminal or semi-terminal step chosen by the close rules.
type Action int

const (
	ActionContinue Action = iota
	ActionClose
	ActionFutureProbe
)

// RuleState is the thread state the close rules depend on.
type RuleState struct {
	FutureProbeAsked bool
}

// Decision is the result of Decide. Rule is the 1-based rule number that fired, 0 if none.
type Decision struct {
	Rule    int
	Action  Action
	Close   models.CloseType
	MarkDNC bool
}

// Decide evaluates the close rules in priority order; the first match wins.
//
//  1. hard stop: DNC close, contact marked DNC
//  2. call request: call close (human)
//  3. trolling: troll close
//  4. interest with every slot known: human close
//  5. decline with a future signal: future close
//  6. decline, probe not yet asked: ask the future probe
//  7. decline, probe already asked: DNC close, contact marked DNC
func Decide(plan models.Plan, st RuleState) Decision {
	declined := plan.Intent == models.IntentDecline || plan.Intent == models.IntentFutureProbeResponse
	switch {
	case plan.HardStop:
		return Decision{Rule: 1, Action: ActionClose, Close: models.CloseDNC, MarkDNC: true}
	case plan.Intent == models.IntentCallRequest:
		return Decision{Rule: 2, Action: ActionClose, Close: models.CloseHuman}
	case plan.Trolling:
		return Decision{Rule: 3, Action: ActionClose, Close: models.CloseTroll}
	case plan.JobInterest == models.InterestYes && plan.Slots.Complete():
		return Decision{Rule: 4, Action: ActionClose, Close: models.CloseHuman}
	case declined && plan.FutureInterest == models.InterestYes:
		return Decision{Rule: 5, Action: ActionClose, Close: models.CloseFuture}
	case declined && !st.FutureProbeAsked:
		return Decision{Rule: 6, Action: ActionFutureProbe}
	case declined:
		return Decision{Rule: 7, Action: ActionClose, Close: models.CloseDNC, MarkDNC: true}
	}
	return Decision{}
}

// text returns the canonical message for a decision in the given template set.
func (d Decision) text(t Templates) string {
	switch {
	case d.Action == ActionFutureProbe:
		return t.FutureProbe
	case d.Rule == 2:
		return t.CallClose
	}
	switch d.Close {
	case models.CloseHuman:
		return t.HumanClose
	case models.CloseFuture:
		return t.FutureClose
	case models.CloseDNC:
		return t.DNCClose
	case models.CloseTroll:
		return t.TrollClose
	}
	return ""
}
