package conversation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// DefaultLLMTimeout bounds a single model call made during a turn.
const DefaultLLMTimeout = 15 * time.Second

// Turn is one inbound message together with the thread it belongs to.
// History holds every earlier message of the thread, oldest first, and excludes Text.
// Slot memory and ask counts read all of it; model prompts see the last HistoryLimit.
type Turn struct {
	Thread  models.Thread
	History []models.Message
	Text    string
}

// threadView is what the planner needs to know about a thread's history.
type threadView struct {
	hasOpener      bool
	lastAsk        askKind
	lastOutbound   string
	userTurns      int
	probeAsked     bool
	priorInterest  models.Interest
	valueLineUsed  bool
	identityUsed   bool
	fallbackUsed   bool
	asks           map[askKind]int
	assistantLines []string
	userTexts      []string
}

// Classifier turns the latest message into a Plan. Hard signals and turn-local context
// are resolved deterministically; only ambiguous messages reach the Analyzer.
type Classifier struct {
	cfg      Config
	slots    *slotReader
	analyzer Analyzer
	timeout  time.Duration
}

// NewClassifier creates a classifier. analyzer may be nil, in which case ambiguous
// messages keep the deterministic reading.
func NewClassifier(cfg Config, analyzer Analyzer, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	return &Classifier{cfg: cfg, slots: newSlotReader(cfg), analyzer: analyzer, timeout: timeout}
}

// Classify returns the plan for turn. The plan is always usable; a non-nil error only
// reports that the analyzer failed and the deterministic reading was kept.
func (c *Classifier) Classify(ctx context.Context, turn Turn) (models.Plan, error) {
	return c.classify(ctx, turn, c.view(turn.History))
}

func (c *Classifier) view(history []models.Message) threadView {
	v := threadView{priorInterest: models.InterestUnknown, asks: make(map[askKind]int)}
	valueMarkers, identityMarkers, fallbackMarkers := c.lineMarkers()
	last := askNone
	for i, m := range history {
		if m.Direction == models.DirectionOut {
			if i == 0 {
				v.hasOpener = true
			}
			last = c.slots.asked(m.Body)
			v.asks[last]++
			if last == askFutureProbe {
				v.probeAsked = true
			}
			f := Fold(m.Body)
			v.valueLineUsed = v.valueLineUsed || containsAny(f, valueMarkers)
			v.identityUsed = v.identityUsed || containsAny(f, identityMarkers) || brandIdentityRx.MatchString(m.Body)
			v.fallbackUsed = v.fallbackUsed || containsAny(f, fallbackMarkers)
			v.assistantLines = append(v.assistantLines, splitSentences(m.Body)...)
			v.lastOutbound = m.Body
			continue
		}
		sig := readSignals(m.Body, c.cfg.DNCPhrases)
		ask := last
		if ask == askNone && v.userTurns == 0 && v.hasOpener {
			ask = askInterest
		}
		if vd := localVerdict(sig, ask, v.priorInterest, ""); vd.decided && vd.job != models.InterestUnknown {
			v.priorInterest = vd.job
		}
		v.userTurns++
		v.userTexts = append(v.userTexts, m.Body)
		last = askNone
	}
	v.lastAsk = last
	return v
}

func (c *Classifier) lineMarkers() (value, identity, fallback []string) {
	for _, t := range c.cfg.Languages {
		value = append(value, closeKey(t.ValueLine))
		identity = append(identity, closeKey(t.IdentityLine))
		fallback = append(fallback, closeKey(t.FallbackQuestion), closeKey(t.FallbackYearsQuestion))
	}
	return value, identity, fallback
}

func containsAny(folded string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(folded, n) {
			return true
		}
	}
	return false
}

func (c *Classifier) classify(ctx context.Context, turn Turn, v threadView) (models.Plan, error) {
	sig := readSignals(turn.Text, c.cfg.DNCPhrases)
	ex := c.slots.extract(turn.Thread, turn.History, turn.Text, c.cfg.DNCPhrases)

	ask := v.lastAsk
	if ask == askNone && v.userTurns == 0 && v.hasOpener {
		ask = askInterest
	}
	vd := localVerdict(sig, ask, v.priorInterest, ex.answered)
	plan := models.Plan{
		JobInterest:       vd.job,
		FutureInterest:    vd.future,
		Intent:            vd.intent,
		Slots:             ex.slots,
		AskedSalary:       sig.salary && sig.question,
		PhoneOnlyTopics:   sig.phoneOnly,
		Hesitant:          sig.hesitant,
		AgeQuestion:       sig.ageQuestion,
		AgeValue:          sig.ageValue,
		Trolling:          sig.troll,
		HardStop:          sig.hardStop,
		SpecialtyMismatch: ex.mismatch,
	}
	if vd.decided || c.analyzer == nil {
		return normalizePlan(plan), nil
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	llm, err := c.analyzer.Analyze(actx, turn.History, turn.Text)
	if err != nil {
		slog.Warn("Classifier.Classify: analyzer failed, keeping deterministic plan", "thread_id", turn.Thread.ID, "error", err)
		return normalizePlan(plan), err
	}
	return normalizePlan(mergeAnalysis(plan, llm)), nil
}

// verdict is the deterministic reading of a message in its turn-local context.
type verdict struct {
	intent  models.Intent
	job     models.Interest
	future  models.Interest
	decided bool
}

func localVerdict(sig signals, ask askKind, prior models.Interest, answered models.Slot) verdict {
	decline := func() verdict {
		future := models.InterestUnknown
		if sig.futureCue {
			future = models.InterestYes
		}
		return verdict{models.IntentDecline, models.InterestNo, future, true}
	}
	switch {
	case sig.hardStop:
		return verdict{models.IntentDecline, models.InterestNo, models.InterestNo, true}
	case sig.call:
		return verdict{models.IntentCallRequest, models.InterestYes, models.InterestUnknown, true}
	case sig.troll:
		return verdict{models.IntentOther, prior, models.InterestUnknown, true}
	case sig.identity && !sig.decline:
		return verdict{models.IntentIdentityQuestion, prior, models.InterestUnknown, true}
	}

	if ask == askFutureProbe {
		switch {
		case sig.futureCue || (sig.affirm && !sig.decline):
			return verdict{models.IntentFutureProbeResponse, models.InterestNo, models.InterestYes, true}
		case sig.decline:
			return verdict{models.IntentDecline, models.InterestNo, models.InterestNo, true}
		}
	}

	switch {
	case sig.question && sig.decline:
		return decline()
	case sig.question:
		return verdict{sig.questionIntent(), models.InterestYes, models.InterestUnknown, true}
	case sig.decline || sig.futureCue:
		return decline()
	case sig.affirm:
		return verdict{models.IntentAccept, models.InterestYes, models.InterestUnknown, true}
	case answered != "":
		intent := models.IntentOther
		if prior == models.InterestYes {
			intent = models.IntentAccept
		}
		return verdict{intent, prior, models.InterestUnknown, true}
	case sig.hesitant:
		return verdict{models.IntentHesitant, models.InterestUnsure, models.InterestUnknown, true}
	}
	if ask == askInterest && sig.ack {
		return verdict{models.IntentAccept, models.InterestYes, models.InterestUnknown, true}
	}
	return verdict{models.IntentOther, prior, models.InterestUnknown, false}
}

// mergeAnalysis layers the analyzer's reading over the deterministic plan. Hard signals
// already present in plan are never cleared.
func mergeAnalysis(plan, llm models.Plan) models.Plan {
	if llm.Intent != "" && llm.Intent != models.IntentOther {
		plan.Intent = llm.Intent
	}
	if llm.JobInterest != models.InterestUnknown && llm.JobInterest != "" {
		plan.JobInterest = llm.JobInterest
	}
	if llm.FutureInterest != models.InterestUnknown && llm.FutureInterest != "" {
		plan.FutureInterest = llm.FutureInterest
	}
	fill := llm.Slots
	fill.City, fill.Specialty = "", ""
	if fill.Availability == "" && llm.BusyUntil != "" {
		fill.Availability = llm.BusyUntil
	}
	plan.Slots = plan.Slots.Merge(fill)
	plan.BusyUntil = llm.BusyUntil
	plan.AskedSalary = plan.AskedSalary || llm.AskedSalary
	plan.Hesitant = plan.Hesitant || llm.Hesitant
	plan.AgeQuestion = plan.AgeQuestion || llm.AgeQuestion
	plan.Trolling = plan.Trolling || llm.Trolling
	if plan.AgeValue == nil {
		plan.AgeValue = llm.AgeValue
	}
	for _, t := range llm.PhoneOnlyTopics {
		if !slices.Contains(plan.PhoneOnlyTopics, t) {
			plan.PhoneOnlyTopics = append(plan.PhoneOnlyTopics, t)
		}
	}
	return plan
}

// normalizePlan applies the question-implies-interest policy.
func normalizePlan(p models.Plan) models.Plan {
	if p.Intent.IsQuestion() && p.JobInterest != models.InterestNo {
		p.JobInterest = models.InterestYes
	}
	if p.Intent == models.IntentOther && p.Hesitant {
		p.Intent = models.IntentHesitant
	}
	if p.JobInterest == "" {
		p.JobInterest = models.InterestUnknown
	}
	if p.FutureInterest == "" {
		p.FutureInterest = models.InterestUnknown
	}
	return p
}
