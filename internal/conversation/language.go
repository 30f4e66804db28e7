package conversation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

var supportedTags = []language.Tag{language.Lithuanian, language.English, language.Russian}

var languageMatcher = language.NewMatcher(supportedTags)

var (
	ltDiacritics = regexp.MustCompile(`[ąčęėįšųūž]`)
	ltWords      = regexp.MustCompile(`\b(taip|ne|aciu|labas|sveiki|domina|nedomina|metai|metu|metus|nuo|kada|kiek|kur|kaip|gerai|galiu|dirbu|esu|patirt\w*|rytoj|siandien|jo|nzn|nebe\w*)\b`)
	enWords      = regexp.MustCompile(`\b(yes|no|the|and|i'm|am|is|are|you|what|when|where|how|much|interested|call|me|years?|experience|from|monday|tomorrow|today|thanks|thank|please|work|job|pay|not|maybe|later|who)\b`)
)

// MatchLanguage maps any BCP 47 tag to the closest supported language code.
func MatchLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return DefaultLanguage
	}
	_, idx, conf := languageMatcher.Match(t)
	if conf == language.No {
		return DefaultLanguage
	}
	base, _ := supportedTags[idx].Base()
	return base.String()
}

// DetectLanguage guesses the language of a short SMS. It returns "" when the text carries
// no usable signal, so callers can keep the language already in use.
func DetectLanguage(text string) string {
	var letters, cyrillic int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Cyrillic, r) {
				cyrillic++
			}
		}
	}
	if letters == 0 {
		return ""
	}
	if float64(cyrillic)/float64(letters) > 0.5 {
		return "ru"
	}
	lower := strings.ToLower(text)
	if ltDiacritics.MatchString(lower) {
		return "lt"
	}
	folded := Fold(text)
	lt := len(ltWords.FindAllString(folded, -1))
	en := len(enWords.FindAllString(folded, -1))
	switch {
	case en > lt:
		return "en"
	case lt > 0:
		return "lt"
	}
	return ""
}
