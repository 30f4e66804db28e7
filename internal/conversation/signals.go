package conversation

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Patterns run on Fold()ed text. Cyrillic alternatives avoid \b, which is ASCII-only.
var (
	hardStopRx   = regexp.MustCompile(`(^|[^\w-])stop\b|\bne?be(trukdy|rasy|rasin|siu|siunt|jung|junk|susisiek)\w*|\b(atsisakau|atsisakyti|unsubscribe|netrukdyk\w*)\b|\bnenoriu\s+gauti\b|\bistrink\w*\s+mano\s+numer\w*|\b(do\s+not|don'?t)\s+(text|message|contact|write)\b|\bremove\s+me\b`)
	hardStopRuRx = regexp.MustCompile(`(^|\s)(стоп|отпишите|не\s+пишите|больше\s+не\s+пишите)`)

	callRx   = regexp.MustCompile(`\b(skambink\w*|paskambink\w*|paskambinsiu|susiskambink\w*|galite\s+paskambinti|duok\w*\s+(numer\w*|nr)|perduok\w*\s+kolegai|call\s+me|give\s+me\s+a\s+call|can\s+i\s+call)\b`)
	callRuRx = regexp.MustCompile(`(позвоните|перезвоните|наберите\s+меня)`)

	trollRx   = regexp.MustCompile(`\b(sudas|bybis|byb|pizd\w*|pyzd\w*|nx|nahui|nahuy|debil\w*|idiot\w*|lochas|lauchas|kvailys|durnius|eik\s+na(ch|x)\w*|fuck\w*|f\*+k|wtf|bitch|asshole)\b`)
	trollRuRx = regexp.MustCompile(`(нахуй|пизд|блять|сука|идиот|дебил)`)

	identityRx   = regexp.MustCompile(`\b(robot\w*|botas|bot|chatbot|dirbtin\w*|kas\s+(jus|rasote|rasai)|who\s+(is\s+this|are\s+you))\b|\b(ar\s+(tu|jus)|are\s+you(\s+an?)?|is\s+this(\s+an?)?)\s+(zmogus|robotas|botas|ai|bot|human)\b`)
	identityRuRx = regexp.MustCompile(`(бот|робот|кто\s+это|кто\s+вы)`)

	affirmRx   = regexp.MustCompile(`^\s*(taip|jo|ok|okey|okei|tinka|tiktu|gerai|domina|galiu|gal|galbut|nor\w*|butu|aisku|zinoma|yes|yeah|yep|sure)\b|\b(domina|aktualu|idomu|interested)\b`)
	affirmRuRx = regexp.MustCompile(`^\s*(да|ага|хорошо|интересно|можно|конечно)([\s,.!]|$)`)

	declineRx       = regexp.MustCompile(`^\s*(ne|nedomina|neaktualu|nenoriu|nereikia|no|nope)\b|\b(nedomina|neaktualu|nesidomiu|ne\s+domina|not\s+interested|no\s+thanks)\b`)
	declineRuRx     = regexp.MustCompile(`(^\s*нет([\s,.!]|$)|не\s+интересно|не\s+актуально)`)
	futureCueRx     = regexp.MustCompile(`\b(ateityje|ateiciai|veliau|gal\s*(veliau|ateityje)|kai\s+bus\s+laisviau|dabar\s+ne,?\s*bet|kol\s+kas\s+ne|in\s+the\s+future|later|maybe\s+later)\b`)
	futureCueRuRx   = regexp.MustCompile(`(позже|в\s+будущем|потом)`)
	hesitantRx      = regexp.MustCompile(`\b(nezinau|nzn|nesu\s+(tikras|tikra)|priklauso|pagalvosiu|pamastysiu|not\s+sure|dunno|depends)\b`)
	ackRx           = regexp.MustCompile(`^\W*(aciu|dekui|ir\s+jums|geros\s+dienos|ok|okey|okei|gerai|thanks|thank\s+you|спасибо)\W*$|👍`)
	questionWordRx  = regexp.MustCompile(`^\s*((o|ir|bet|tai)\s+)?(kas|koks|kokia|kokie|kokios|kada|kur|kaip|kiek|del\s+ko|kodel|ar|what|when|where|how|why|which|is|are|do|does|can)\b`)
	questionRuRx    = regexp.MustCompile(`^\s*(что|когда|где|как|сколько|почему|какой|какая)([\s,]|$)`)
	salaryRx        = regexp.MustCompile(`\b(alg\w*|atlyg\w*|ikain\w*|tarif\w*|mok(a|at|et|es|ate|esit)\w*|eur\w*|rate|pay\w*|salary|wage\w*)\b|€`)
	scheduleRx      = regexp.MustCompile(`\b(grafik\w*|valand\w*|pamain\w*|darbo\s+laik\w*|schedule|shifts?|hours)\b`)
	locationRx      = regexp.MustCompile(`\b(kur|adres\w*|vieta|vietoj\w*|lokacij\w*|where|address)\b`)
	projectRx       = regexp.MustCompile(`\b(objekt\w*|projekt\w*|darb\w*|ka\s+reik\w*|kas\s+per|what\s+kind|job|work)\b`)
	clientRx        = regexp.MustCompile(`\b(klient\w*|uzsakov\w*|client\w*|customer\w*)\b`)
	preciseLocRx    = regexp.MustCompile(`\b(adres\w*|tiksli\w*\s+viet\w*|lokacij\w*|address)\b`)
	contractRx      = regexp.MustCompile(`\b(sutart\w*|contract\w*|ivs|individualia\w*\s+veikl\w*)\b`)
	ageQuestionRx   = regexp.MustCompile(`\b(nuo\s+kiek\s+metu|kiek\s+metu\s+galima\s+dirbti|priimate\s+nuo\s+kiek|idarbinate\s+nuo|how\s+old|age\s+limit)\b`)
	ageValueRx      = regexp.MustCompile(`\bman\s+(\d{1,2})(\s*(m\.|metu|metai))?|\b(\d{1,2})\s*metu\s+amzi\w*|\bi'?m\s+(\d{1,2})\s+years?\s+old\b`)
	humanClaimRx    = regexp.MustCompile(`\b(esu\s+(zmogus|gyvas)|as\s+ne\s+(robotas|botas)|esu\s+(robotas|botas|dirbtinis)|dirbtinis\s+intelektas|i\s+am\s+(a\s+)?(human|real\s+person|bot|ai)|not\s+a\s+bot|ai\s+assistant)\b|я\s+(человек|бот)`)
	brandIdentityRx = regexp.MustCompile(`(?i)(^|\s)(c|č)ia\s+valandinis\.?lt\b[,.]?|\besu\s+valandinis\.?lt\b[,.]?`)
	bannedLineRx    = regexp.MustCompile(`(?i)ar aktualu dabar, ar palikti ateičiai\?`)
	greetingRepeat  = regexp.MustCompile(`^((Sveiki|Labas)[,!]?\s+){2,}`)
)

func matchesAny(s string, rxs ...*regexp.Regexp) bool {
	for _, rx := range rxs {
		if rx.MatchString(s) {
			return true
		}
	}
	return false
}

// signals is the deterministic reading of one user message.
type signals struct {
	folded      string
	hardStop    bool
	call        bool
	troll       bool
	identity    bool
	affirm      bool
	decline     bool
	futureCue   bool
	hesitant    bool
	ack         bool
	question    bool
	salary      bool
	schedule    bool
	location    bool
	project     bool
	ageQuestion bool
	ageValue    *int
	phoneOnly   []string
}

func readSignals(text string, dncPhrases []string) signals {
	f := Fold(text)
	s := signals{folded: f}
	s.hardStop = matchesAny(f, hardStopRx, hardStopRuRx) || isDNCPhrase(f, dncPhrases)
	s.call = matchesAny(f, callRx, callRuRx)
	s.troll = matchesAny(f, trollRx, trollRuRx)
	s.identity = matchesAny(f, identityRx, identityRuRx)
	s.affirm = matchesAny(f, affirmRx, affirmRuRx)
	s.decline = matchesAny(f, declineRx, declineRuRx)
	s.futureCue = matchesAny(f, futureCueRx, futureCueRuRx)
	s.hesitant = hesitantRx.MatchString(f)
	s.ack = ackRx.MatchString(f)
	s.question = strings.HasSuffix(strings.TrimSpace(text), "?") || matchesAny(f, questionWordRx, questionRuRx)
	s.salary = salaryRx.MatchString(f)
	s.schedule = scheduleRx.MatchString(f)
	s.location = locationRx.MatchString(f)
	s.project = projectRx.MatchString(f)
	s.ageQuestion = ageQuestionRx.MatchString(f)
	if m := ageValueRx.FindStringSubmatch(f); m != nil {
		for _, g := range []string{m[1], m[4], m[5]} {
			if v, ok := atoiBounded(g, 10, 99); ok {
				s.ageValue = &v
				break
			}
		}
	}
	if s.salary {
		s.phoneOnly = append(s.phoneOnly, "salary")
	}
	if clientRx.MatchString(f) {
		s.phoneOnly = append(s.phoneOnly, "clients")
	}
	if preciseLocRx.MatchString(f) {
		s.phoneOnly = append(s.phoneOnly, "precise_location")
	}
	if contractRx.MatchString(f) {
		s.phoneOnly = append(s.phoneOnly, "contract_terms")
	}
	if s.ageQuestion || s.ageValue != nil {
		s.phoneOnly = append(s.phoneOnly, "age")
	}
	return s
}

func isDNCPhrase(folded string, phrases []string) bool {
	t := strings.Trim(folded, " .!")
	for _, p := range phrases {
		if p = strings.Trim(Fold(p), " .!"); p != "" && p == t {
			return true
		}
	}
	return false
}

// questionIntent picks the question category of a message already known to be a question.
func (s signals) questionIntent() models.Intent {
	switch {
	case s.salary:
		return models.IntentSalaryQuestion
	case s.schedule:
		return models.IntentScheduleQuestion
	case s.location:
		return models.IntentLocationQuestion
	case s.project:
		return models.IntentProjectQuestion
	}
	return models.IntentDirectQuestion
}
