package conversation

import (
	"regexp"
	"strings"
	"sync"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Legacy closing phrasings, matched on folded text when no template matches exactly.
var closeFamilies = []struct {
	rx   *regexp.Regexp
	kind models.CloseType
}{
	{regexp.MustCompile(`\bdaugiau\s+(nerasysime|netrukdysime)\b|\bwe\s+will\s+not\s+message\s+you\b|больше\s+не\s+будем`), models.CloseDNC},
	{regexp.MustCompile(`\buzsirasys\w*\s+ateiciai\b|\bnote\s+you\s+down\s+for\s+the\s+future\b|запишу\s+вас\s+на\s+будущее`), models.CloseFuture},
	{regexp.MustCompile(`\bpalikime\s+cia\b|\blet'?s\s+leave\s+it\s+here\b|давайте\s+на\s+этом\s+остановимся`), models.CloseTroll},
	{regexp.MustCompile(`\b(perduosiu\s+kolegai|paskambins\s+del\s+detaliu|jums\s+paskambins)\b|\b(colleague\s+will\s+call\s+you\s+about|they\s+will\s+call\s+you)\b|позвонит\s+вам\s+по\s+деталям|он\s+вам\s+позвонит`), models.CloseHuman},
}

// CloseTypeOf recovers the close type from an outbound message. It returns CloseNone when
// the text is not a closing message.
func (c Config) CloseTypeOf(text string) models.CloseType {
	k := closeKey(text)
	if k == "" {
		return models.CloseNone
	}
	for _, t := range c.Languages {
		for _, ct := range t.closeTexts() {
			if ck := closeKey(ct.text); ck != "" && (k == ck || strings.Contains(k, ck)) {
				return ct.kind
			}
		}
	}
	for _, fam := range closeFamilies {
		if fam.rx.MatchString(k) {
			return fam.kind
		}
	}
	return models.CloseNone
}

// CloseTypeOf recovers the close type using the planner's templates.
func (p *Planner) CloseTypeOf(text string) models.CloseType {
	return p.cfg.CloseTypeOf(text)
}

// CloseTypeOf recovers the close type using the built-in templates.
func CloseTypeOf(text string) models.CloseType {
	return DefaultConfig().CloseTypeOf(text)
}

func outcomeForClose(ct models.CloseType, slots models.Slots) models.Outcome {
	out := models.Outcome{
		CloseType:    ct,
		Years:        slots.Years,
		Availability: slots.Availability,
	}
	switch ct {
	case models.CloseHuman:
		out.Interested, out.FutureInterest = models.InterestYes, models.InterestNo
	case models.CloseFuture:
		out.Interested, out.FutureInterest = models.InterestYes, models.InterestYes
	case models.CloseDNC, models.CloseTroll:
		out.Interested, out.FutureInterest = models.InterestNo, models.InterestNo
	default:
		out.Interested, out.FutureInterest = models.InterestUnsure, models.InterestUnknown
	}
	return out
}

// Summarize derives the KPI outcome of a thread from its close type, or from the last
// user message when the thread has no recognizable close.
func (p *Planner) Summarize(thread models.Thread, history []models.Message) models.Outcome {
	slots := p.classifier.slots.extract(thread, history, "", p.cfg.DNCPhrases).slots

	ct := thread.LastCloseType
	var lastOut, lastUser string
	for _, m := range history {
		if m.Direction == models.DirectionOut {
			lastOut = m.Body
		} else {
			lastUser = m.Body
		}
	}
	if ct == models.CloseNone {
		ct = p.CloseTypeOf(lastOut)
	}
	if ct != models.CloseNone {
		out := outcomeForClose(ct, slots)
		out.ThreadID = thread.ID
		return out
	}

	out := outcomeForClose(models.CloseNone, slots)
	out.ThreadID = thread.ID
	if strings.TrimSpace(lastUser) == "" {
		return out
	}
	sig := readSignals(lastUser, p.cfg.DNCPhrases)
	switch {
	case sig.hardStop || sig.decline:
		out.Interested = models.InterestNo
	case sig.question || sig.affirm || sig.call || slots.Years != nil || slots.Availability != "":
		out.Interested = models.InterestYes
	}
	switch {
	case sig.futureCue && !sig.hardStop:
		out.FutureInterest = models.InterestYes
	case out.Interested == models.InterestNo:
		out.FutureInterest = models.InterestNo
	}
	return out
}

var defaultPlanner = sync.OnceValue(func() *Planner {
	p, err := NewPlanner(DefaultConfig())
	if err != nil {
		panic("conversation: default config invalid: " + err.Error())
	}
	return p
})

// Summarize derives the outcome of a thread with the built-in templates.
func Summarize(thread models.Thread, history []models.Message) models.Outcome {
	return defaultPlanner().Summarize(thread, history)
}
