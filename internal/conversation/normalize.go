package conversation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var dashReplacer = strings.NewReplacer("–", "-", "—", "-", "−", "-", "‑", "-")

// Fold lowercases s, strips diacritics, unifies dashes and collapses whitespace.
// Matching rules operate on folded text so "nebesiųskite" and "nebesiuskite" behave alike.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	return collapseSpaces(dashReplacer.Replace(folded))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// closeKey normalizes a message for closing-template comparison.
func closeKey(s string) string {
	return strings.TrimRight(Fold(s), ".!?… ")
}

// marker is the folded prefix of a template up to its first placeholder, used to
// recognize that the assistant already sent a given question.
func marker(template string) string {
	if i := strings.Index(template, "{"); i >= 0 {
		template = template[:i]
	}
	return strings.TrimRight(Fold(template), ".!?… ")
}

// splitSentences splits on sentence-final punctuation followed by whitespace.
func splitSentences(s string) []string {
	var out []string
	start := 0
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '.', '!', '?', '…':
			if i+1 == len(rs) || unicode.IsSpace(rs[i+1]) {
				if part := strings.TrimSpace(string(rs[start : i+1])); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(string(rs[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

// similarity returns 1 - levenshtein/maxLen over folded runes.
func similarity(a, b string) float64 {
	fa, fb := Fold(a), Fold(b)
	maxLen := max(utf8.RuneCountInString(fa), utf8.RuneCountInString(fb))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(fa, fb))/float64(maxLen)
}

// FinalSMS collapses whitespace and caps s at maxLen characters. Overlong text is cut at
// a word boundary when one exists in the second half and ends with an ellipsis.
func FinalSMS(s string, maxLen int) string {
	s = collapseSpaces(s)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	rs := []rune(s)
	cut := rs[:maxLen-1]
	if i := lastSpace(cut); i > maxLen/2 {
		cut = cut[:i]
	}
	trimmed := strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return trimmed + "…"
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}

// singleQuestion keeps sentences up to and including the first question and drops any
// later sentence that is itself a question.
func singleQuestion(s string) string {
	if strings.Count(s, "?") <= 1 {
		return s
	}
	var kept []string
	asked := false
	for _, sent := range splitSentences(s) {
		if strings.Contains(sent, "?") {
			if asked {
				continue
			}
			if strings.Count(sent, "?") > 1 {
				sent = sent[:strings.Index(sent, "?")+1]
			}
			asked = true
		}
		kept = append(kept, sent)
	}
	return strings.Join(kept, " ")
}
