package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// askKind is what the assistant asked for in an outbound message.
type askKind int

const (
	askNone askKind = iota
	askInterest
	askFutureProbe
	askCity
	askSpecialty
	askYears
	askAvailability
)

func (k askKind) slot() (models.Slot, bool) {
	switch k {
	case askCity:
		return models.SlotCity, true
	case askSpecialty:
		return models.SlotSpecialty, true
	case askYears:
		return models.SlotYears, true
	case askAvailability:
		return models.SlotAvailability, true
	}
	return "", false
}

func askFor(slot models.Slot) askKind {
	switch slot {
	case models.SlotCity:
		return askCity
	case models.SlotSpecialty:
		return askSpecialty
	case models.SlotYears:
		return askYears
	case models.SlotAvailability:
		return askAvailability
	}
	return askNone
}

// Patterns run on Fold()ed text.
var (
	yearsUnitRx  = regexp.MustCompile(`\b(\d{1,3})\s*(\+\s*)?(?:(?:metai|metus|metu|years?|yrs?|m)\b|m\.|лет|года|год)`)
	yearsWordRx  = regexp.MustCompile(`\b(vienus|vienerius|dvejus|trejus|ketverius|penkerius|sesis|septynerius|astuonerius|devynerius|desimt|one|two|three|four|five|six|seven|eight|nine|ten)\s+(metus|metu|metai|years?)\b`)
	subYearRx    = regexp.MustCompile(`\b\d{1,2}\s*(men\w*|savait\w*|dien\w*|months?|weeks?|days?)\b|\b(pusmet\w*|puse\s+metu|half\s+a\s+year)\b|(месяц|недел)`)
	noExpRx      = regexp.MustCompile(`\b(neturiu\s+patirt\w*|be\s+patirt\w*|no\s+experience|never\s+worked)\b|(нет\s+опыта|без\s+опыта)`)
	expWordRx    = regexp.MustCompile(`\b(patirt\w*|stazas|experience)\b|опыт`)
	bareNumberRx = regexp.MustCompile(`^\D*?(\d{1,3})\D*$`)

	availabilityRx = regexp.MustCompile(`\bnuo\s+(pirmadien\w*|antradien\w*|treciadien\w*|ketvirtadien\w*|penktadien\w*|sestadien\w*|sekmadien\w*|rytoj\w*|kit\w*|sios\s+savaites|\d{1,2}\s*(d\b|d\.|-?(os|a)\b|dien\w*)|sausio|vasario|kovo|balandzio|geguzes|birzelio|liepos|rugpjucio|rugsejo|spalio|lapkricio|gruodzio)` +
		`|\b(rytoj\w*|siandien|poryt|sia\s+savaite|kita\s+savaite|kitos\s+savaites|iskart|is\s+karto|bet\s+kada|bet\s+kuriuo\s+metu|jau\s+dabar|nuo\s+dabar|galiu\s+pradeti|laisvas\s+nuo|laisva\s+nuo|uzimt\w*\s+iki|dirbu\s+iki)\b` +
		`|\bpo\s+(savaitgal\w*|savait\w*|menes\w*|atostog\w*|svenci\w*|\d{1,2}\s*(d\b|d\.|dien\w*|savait\w*|men\w*))` +
		`|\b(from\s+(monday|tuesday|wednesday|thursday|friday|next\s+week|tomorrow|\d{1,2})|tomorrow|today|next\s+week|this\s+week|right\s+away|immediately|asap|any\s*time|busy\s+until|available\s+from)\b` +
		`|(завтра|сегодня|с\s+понедельника|со\s+следующей\s+недели|на\s+следующей\s+неделе|сразу|в\s+любое\s+время)`)

	askCityRx         = regexp.MustCompile(`\b(kuriame\s+mieste|kokiame\s+mieste|kuriame\s+regione|which\s+city|what\s+city)\b|в\s+каком\s+городе`)
	askSpecialtyRx    = regexp.MustCompile(`\b(kokia\s+(jusu\s+)?specialyb\w*|kokia\s+jusu\s+profesij\w*|what\s+is\s+your\s+trade|what\s+trade)\b|какая\s+у\s+вас\s+специальность`)
	askYearsRx        = regexp.MustCompile(`\bkiek\s+(metu\s+)?patirt\w*|\bkiek\s+metu\s+dirbate\b|\bhow\s+many\s+years\b|сколько\s+лет`)
	askAvailabilityRx = regexp.MustCompile(`\b(nuo\s+kada|kada\s+galetumete\s+pradeti|koks\s+grafikas\s+tinka|when\s+could\s+you\s+start|when\s+can\s+you\s+start)\b|когда\s+могли\s+бы\s+начать`)

	openerCityRx      = regexp.MustCompile(`(?i)\bkad\s+([\p{L}-]+)\s+turime\s+objekt|(?:\bin|В)\s+([\p{L}-]+)\s+(?:that|есть)`)
	openerSpecialtyRx = regexp.MustCompile(`(?i)\breikaling(?:as|a|i)\s+([\p{L}-]+)|\bieškome\s*[–-]?\s*([\p{L}-]+)|\bneeds\s+(?:an?\s+)?([\p{L}-]+)|нужен\s+([\p{L}-]+)`)

	tradeClaimRx = regexp.MustCompile(`\b(esu|dirbu|as\s+esu|as|i'?m|i\s+am|i\s+work\s+as|work\s+as)\s+(kaip\s+|a\s+|an\s+)?(\pL+)|(^|\s)я\s+(\pL+)`)
)

var yearWords = map[string]int{
	"vienus": 1, "vienerius": 1, "dvejus": 2, "trejus": 3, "ketverius": 4, "penkerius": 5,
	"sesis": 6, "septynerius": 7, "astuonerius": 8, "devynerius": 9, "desimt": 10,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10,
}

// trades maps folded stems to the nominative trade name used in replies.
var trades = []struct{ stem, name string }{
	{"elektrik", "elektrikas"},
	{"santechnik", "santechnikas"},
	{"suvirin", "suvirintojas"},
	{"stali", "stalius"},
	{"dailid", "dailidė"},
	{"dazytoj", "dažytojas"},
	{"plyteli", "plytelių klojėjas"},
	{"murinink", "mūrininkas"},
	{"betonuotoj", "betonuotojas"},
	{"apdailinink", "apdailininkas"},
	{"stogdeng", "stogdengys"},
	{"tinkuotoj", "tinkuotojas"},
	{"montuotoj", "montuotojas"},
	{"pagalbin", "pagalbinis darbininkas"},
	{"electrician", "electrician"},
	{"plumber", "plumber"},
	{"welder", "welder"},
	{"carpenter", "carpenter"},
	{"painter", "painter"},
	{"tiler", "tiler"},
	{"bricklayer", "bricklayer"},
	{"электрик", "электрик"},
	{"сантехник", "сантехник"},
	{"сварщик", "сварщик"},
	{"плотник", "плотник"},
	{"маляр", "маляр"},
}

var cities = []struct{ stem, name string }{
	{"vilni", "Vilnius"},
	{"kaun", "Kaunas"},
	{"klaiped", "Klaipėda"},
	{"siaul", "Šiauliai"},
	{"panevez", "Panevėžys"},
	{"alyt", "Alytus"},
	{"marijampol", "Marijampolė"},
	{"mazeik", "Mažeikiai"},
	{"jonav", "Jonava"},
	{"uten", "Utena"},
	{"kedain", "Kėdainiai"},
	{"telsi", "Telšiai"},
	{"taurag", "Tauragė"},
	{"ukmerg", "Ukmergė"},
	{"visagin", "Visaginas"},
	{"palang", "Palanga"},
	{"druskinink", "Druskininkai"},
}

var wordRx = regexp.MustCompile(`\pL+`)

func atoiBounded(g string, lo, hi int) (int, bool) {
	if g == "" {
		return 0, false
	}
	v, err := strconv.Atoi(g)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func clip(s string, n int) string {
	s = collapseSpaces(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func tradeOf(word string) string {
	w := Fold(word)
	for _, t := range trades {
		if strings.HasPrefix(w, t.stem) {
			return t.name
		}
	}
	return ""
}

func sameTrade(a, b string) bool {
	fa, fb := Fold(a), Fold(b)
	for _, t := range trades {
		if strings.HasPrefix(fa, t.stem) {
			return strings.HasPrefix(fb, t.stem)
		}
	}
	return fa == fb
}

// slotReader extracts slots and recognizes which slot an assistant message asked for.
type slotReader struct {
	yearMax int
	markers []askMarker
}

type askMarker struct {
	text string
	kind askKind
}

func newSlotReader(cfg Config) *slotReader {
	r := &slotReader{yearMax: cfg.YearMax}
	add := func(tpl string, kind askKind) {
		if m := marker(tpl); m != "" {
			r.markers = append(r.markers, askMarker{m, kind})
		}
	}
	for _, t := range cfg.Languages {
		add(t.InterestCheck, askInterest)
		add(t.FutureProbe, askFutureProbe)
		add(t.CityQuestion, askCity)
		add(t.SpecialtyQuestion, askSpecialty)
		add(t.YearsQuestion, askYears)
		add(t.AvailabilityQuestion, askAvailability)
		if sents := splitSentences(t.OpenerNoDetails); len(sents) > 0 {
			add(sents[len(sents)-1], askInterest)
		}
	}
	return r
}

// asked returns what an assistant message asked last. Template markers win; keyword
// patterns catch model-phrased questions.
func (r *slotReader) asked(body string) askKind {
	f := Fold(body)
	best, pos := askNone, -1
	for _, m := range r.markers {
		if i := strings.LastIndex(f, m.text); i > pos {
			best, pos = m.kind, i
		}
	}
	if best != askNone || !strings.Contains(body, "?") {
		return best
	}
	for _, p := range []struct {
		rx   *regexp.Regexp
		kind askKind
	}{
		{askAvailabilityRx, askAvailability},
		{askYearsRx, askYears},
		{askSpecialtyRx, askSpecialty},
		{askCityRx, askCity},
	} {
		if loc := p.rx.FindStringIndex(f); loc != nil && loc[0] > pos {
			best, pos = p.kind, loc[0]
		}
	}
	return best
}

// years reads years of experience from one user message. A bare number only counts when
// it answers the years question.
func (r *slotReader) years(sig signals, answering bool) (int, bool) {
	f := sig.folded
	if sig.ageQuestion || (sig.ageValue != nil && !expWordRx.MatchString(f)) {
		return 0, false
	}
	if noExpRx.MatchString(f) {
		return 0, true
	}
	if m := yearsUnitRx.FindStringSubmatch(f); m != nil {
		return atoiBounded(m[1], 0, r.yearMax)
	}
	if m := yearsWordRx.FindStringSubmatch(f); m != nil {
		return yearWords[m[1]], true
	}
	if subYearRx.MatchString(f) {
		return 0, true
	}
	if answering {
		if m := bareNumberRx.FindStringSubmatch(f); m != nil {
			return atoiBounded(m[1], 0, r.yearMax)
		}
	}
	return 0, false
}

func plausibleAnswer(sig signals) bool {
	return sig.folded != "" && !sig.question && !sig.decline && !sig.hardStop &&
		!sig.hesitant && !sig.troll && !sig.call && !sig.ack
}

// vagueWords never name a place or a trade on their own.
var vagueWords = map[string]bool{
	"nezinau": true, "neaisku": true, "dar": true, "gal": true, "galbut": true, "veliau": true,
	"nesvarbu": true, "visur": true, "bet": true, "kur": true, "kas": true, "kazkur": true,
	"kazkas": true, "taip": true, "jo": true, "ne": true, "nu": true, "na": true, "aha": true,
	"idk": true, "whatever": true, "anywhere": true, "anything": true, "yes": true, "no": true,
	"pasakysiu": true, "pagalvosiu": true, "sunku": true, "pasakyti": true,
}

var fillerRx = regexp.MustCompile(`^(h+m+|m+|e+h*|a+|o+|u+h*)$`)

// namedAnswer reports whether a free-text reply to a city or trade question reads
// like a name: one to three words, none of them filler.
func namedAnswer(sig signals) bool {
	if !plausibleAnswer(sig) {
		return false
	}
	words := wordRx.FindAllString(sig.folded, -1)
	if len(words) == 0 || len(words) > 3 || len(strings.Join(words, "")) < 3 {
		return false
	}
	for _, w := range words {
		if vagueWords[w] || fillerRx.MatchString(w) {
			return false
		}
	}
	return true
}

// extraction is the slot state of a thread after the latest message.
type extraction struct {
	slots    models.Slots
	mismatch bool
	// answered is the slot the latest message answered, if any.
	answered models.Slot
}

func openerDetails(history []models.Message) (city, specialty string) {
	for _, m := range history {
		if m.Direction != models.DirectionOut {
			continue
		}
		if mm := openerCityRx.FindStringSubmatch(m.Body); mm != nil {
			city = firstNonEmpty(mm[1:]...)
		}
		if mm := openerSpecialtyRx.FindStringSubmatch(m.Body); mm != nil {
			specialty = firstNonEmpty(mm[1:]...)
		}
		return city, specialty
	}
	return "", ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// extract replays the thread and applies the slot memory rule: a slot is known when the
// user volunteered it, or when the assistant asked for it and the very next user message
// answered.
func (r *slotReader) extract(thread models.Thread, history []models.Message, latest string, dnc []string) extraction {
	var ex extraction
	ex.slots.City, ex.slots.Specialty = thread.City, thread.Specialty
	if ex.slots.City == "" || ex.slots.Specialty == "" {
		c, s := openerDetails(history)
		ex.slots = ex.slots.Merge(models.Slots{City: c, Specialty: s})
	}
	offered := ex.slots.Specialty

	var userTrade string
	last := askNone
	apply := func(text string, isLatest bool) {
		sig := readSignals(text, dnc)
		answered := models.Slot("")
		if y, ok := r.years(sig, last == askYears); ok {
			ex.slots.Years = &y
			answered = models.SlotYears
		}
		if availabilityRx.MatchString(sig.folded) {
			ex.slots.Availability = clip(text, 120)
			answered = models.SlotAvailability
		}
		if c := cityOf(sig.folded); c != "" && (ex.slots.City == "" || last == askCity) {
			ex.slots.City = c
			answered = models.SlotCity
		} else if last == askCity && namedAnswer(sig) {
			ex.slots.City = clip(text, 60)
			answered = models.SlotCity
		}
		if t := claimedTrade(sig.folded); t != "" {
			userTrade = t
			answered = models.SlotSpecialty
		} else if last == askSpecialty {
			if t := tradeOf(text); t != "" && plausibleAnswer(sig) {
				userTrade = t
				answered = models.SlotSpecialty
			} else if namedAnswer(sig) {
				userTrade = clip(text, 60)
				answered = models.SlotSpecialty
			}
		}
		if isLatest {
			ex.answered = answered
		}
	}
	for _, m := range history {
		if m.Direction == models.DirectionOut {
			last = r.asked(m.Body)
			continue
		}
		apply(m.Body, false)
		last = askNone
	}
	apply(latest, true)

	if userTrade != "" {
		ex.mismatch = offered != "" && !sameTrade(userTrade, offered)
		ex.slots.Specialty = userTrade
	}
	return ex
}

func cityOf(folded string) string {
	for _, w := range wordRx.FindAllString(folded, -1) {
		for _, c := range cities {
			if strings.HasPrefix(w, c.stem) {
				return c.name
			}
		}
	}
	return ""
}

func claimedTrade(folded string) string {
	for _, m := range tradeClaimRx.FindAllStringSubmatch(folded, -1) {
		if t := tradeOf(firstNonEmpty(m[3], m[5])); t != "" {
			return t
		}
	}
	return ""
}

// ExtractSlots returns the slots known after latest, using the default configuration.
// City and specialty come from the opener found in history.
func ExtractSlots(history []models.Message, latest string) models.Slots {
	cfg := DefaultConfig()
	return newSlotReader(cfg).extract(models.Thread{}, history, latest, cfg.DNCPhrases).slots
}
