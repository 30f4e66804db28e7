package conversation

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// filter holds what the post-filter needs for one turn.
type filter struct {
	tpl       Templates
	view      threadView
	plan      models.Plan
	threshold float64
	closeKeys []string
}

// phoneOnlyTopic reports which phone-only topic a sentence touches, or "".
func phoneOnlyTopic(folded string) string {
	switch {
	case salaryRx.MatchString(folded):
		return "salary"
	case clientRx.MatchString(folded):
		return "clients"
	case preciseLocRx.MatchString(folded):
		return "precise_location"
	case contractRx.MatchString(folded):
		return "contract_terms"
	case ageQuestionRx.MatchString(folded) || ageValueRx.MatchString(folded):
		return "age"
	}
	return ""
}

func (f filter) asked(topic string) bool {
	if topic == "salary" && f.plan.AskedSalary {
		return true
	}
	if topic == "age" && (f.plan.AgeQuestion || f.plan.AgeValue != nil) {
		return true
	}
	return slices.Contains(f.plan.PhoneOnlyTopics, topic)
}

func (f filter) repeats(sentence string, kept ...string) bool {
	for _, prev := range append(slices.Clone(f.view.assistantLines), kept...) {
		if similarity(sentence, prev) >= f.threshold {
			return true
		}
	}
	return false
}

// isClosing reports whether text reads as one of the canonical closing messages.
func (f filter) isClosing(text string) bool {
	k := closeKey(text)
	for _, ck := range f.closeKeys {
		if ck != "" && (k == ck || strings.Contains(k, ck)) {
			return true
		}
	}
	for _, fam := range closeFamilies {
		if fam.rx.MatchString(k) {
			return true
		}
	}
	return false
}

// model cleans free-form model output. It returns "" when nothing usable is left.
func (f filter) model(text string) string {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if text == "" || f.isClosing(text) {
		return ""
	}
	var kept []string
	for _, sent := range splitSentences(text) {
		folded := Fold(sent)
		switch {
		case humanClaimRx.MatchString(folded), bannedLineRx.MatchString(sent):
			continue
		case f.view.valueLineUsed && similarity(sent, f.tpl.ValueLine) >= f.threshold:
			continue
		case f.repeats(sent, kept...):
			continue
		}
		if topic := phoneOnlyTopic(folded); topic != "" && !f.asked(topic) {
			continue
		}
		if f.view.identityUsed {
			sent = strings.TrimSpace(strings.Trim(brandIdentityRx.ReplaceAllString(sent, ""), ",.— "))
			if utf8.RuneCountInString(sent) < 3 {
				continue
			}
		}
		kept = append(kept, sent)
	}
	out := greetingRepeat.ReplaceAllString(strings.Join(kept, " "), "Sveiki, ")
	return singleQuestion(out)
}

// slotOrderGuard replaces a premature availability question with the years question.
func (f filter) slotOrderGuard(text, yearsQuestion string) string {
	if f.plan.Slots.Years != nil {
		return text
	}
	folded := Fold(text)
	if askAvailabilityRx.MatchString(folded) || strings.Contains(folded, marker(f.tpl.AvailabilityQuestion)) {
		return yearsQuestion
	}
	return text
}

// compose joins pieces and a trailing question within maxLen. When everything does not
// fit, leading pieces are dropped first; the question is never dropped.
func compose(maxLen int, question string, pieces ...string) string {
	var parts []string
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	for len(parts) > 0 {
		candidate := strings.TrimSpace(strings.Join(append(slices.Clone(parts), question), " "))
		if utf8.RuneCountInString(candidate) <= maxLen {
			return candidate
		}
		parts = parts[1:]
	}
	if question == "" && len(pieces) > 0 {
		return FinalSMS(strings.Join(pieces, " "), maxLen)
	}
	return FinalSMS(question, maxLen)
}
