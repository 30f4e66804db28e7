package conversation

import "github.com/BTreeMap/RecruitPipe/internal/models"

// Canonical closing messages. The outcome of a closed thread is recovered by matching the
// last outbound message against these strings, so they must stay literal.
const (
	ValueLine   = "Siūlome lanksčius grafikus, greitą pradžią ir paprastą procesą įsidarbinant."
	HandoffLine = "Perduosiu kolegai – paskambins dėl detalių."
	HumanClose  = "Ačiū už Jūsų laiką — užsirašiau. " + HandoffLine
	CallClose   = "Puiku — perduosiu kolegai, jis jums paskambins."
	FutureClose = "Puiku — užsirašysiu ateičiai. " + ValueLine
	DNCClose    = "Supratau — daugiau nerašysime. Gražios dienos!"
	TrollClose  = "Palikime čia. Jei rimtai domins darbas, parašykite."
)

const (
	ValueLineEN   = "We offer flexible schedules, a quick start and a simple hiring process."
	HumanCloseEN  = "Thank you for your time, noted. A colleague will call you about the details."
	CallCloseEN   = "Great, I will pass this to a colleague and they will call you."
	FutureCloseEN = "Great, I will note you down for the future. " + ValueLineEN
	DNCCloseEN    = "Understood, we will not message you again. Have a nice day!"
	TrollCloseEN  = "Let's leave it here. If you are seriously interested in work, write to us."
)

const (
	ValueLineRU   = "Предлагаем гибкий график, быстрый старт и простое оформление."
	HumanCloseRU  = "Спасибо за ваше время, записал. Коллега позвонит вам по деталям."
	CallCloseRU   = "Отлично, передам коллеге, он вам позвонит."
	FutureCloseRU = "Отлично, запишу вас на будущее. " + ValueLineRU
	DNCCloseRU    = "Понял, больше не будем писать. Хорошего дня!"
	TrollCloseRU  = "Давайте на этом остановимся. Если работа действительно интересует, напишите."
)

// Templates is the per-language set of fixed texts the planner may send.
// Question templates may carry {city} and {specialty} placeholders.
type Templates struct {
	ValueLine   string `yaml:"value_line"`
	HumanClose  string `yaml:"human_close"`
	CallClose   string `yaml:"call_close"`
	FutureClose string `yaml:"future_close"`
	DNCClose    string `yaml:"dnc_close"`
	TrollClose  string `yaml:"troll_close"`

	FutureProbe          string `yaml:"future_probe"`
	InterestCheck        string `yaml:"interest_check"`
	CityQuestion         string `yaml:"city_question"`
	SpecialtyQuestion    string `yaml:"specialty_question"`
	YearsQuestion        string `yaml:"years_question"`
	AvailabilityQuestion string `yaml:"availability_question"`

	SalaryDeferral        string `yaml:"salary_deferral"`
	PhoneOnlyDeferral     string `yaml:"phone_only_deferral"`
	ProjectAnswer         string `yaml:"project_answer"`
	IdentityLine          string `yaml:"identity_line"`
	FallbackQuestion      string `yaml:"fallback_question"`
	// FallbackYearsQuestion replaces FallbackQuestion once the city is known.
	FallbackYearsQuestion string `yaml:"fallback_years_question"`
	DefaultSpecialty      string `yaml:"default_specialty"`
	Opener                string `yaml:"opener"`
	OpenerNoDetails       string `yaml:"opener_no_details"`
}

type closeText struct {
	text string
	kind models.CloseType
}

// closeTexts lists every canonical closing text with the close type it records.
// The call close counts as a human handoff.
func (t Templates) closeTexts() []closeText {
	return []closeText{
		{t.HumanClose, models.CloseHuman},
		{t.CallClose, models.CloseHuman},
		{t.FutureClose, models.CloseFuture},
		{t.DNCClose, models.CloseDNC},
		{t.TrollClose, models.CloseTroll},
	}
}

func defaultTemplatesLT() Templates {
	return Templates{
		ValueLine:             ValueLine,
		HumanClose:            HumanClose,
		CallClose:             CallClose,
		FutureClose:           FutureClose,
		DNCClose:              DNCClose,
		TrollClose:            TrollClose,
		FutureProbe:           "Supratau, ačiū. Ar ateityje norėtumėte bendradarbiauti su Valandinis.lt?",
		InterestCheck:         "Ar šis pasiūlymas jums aktualus?",
		CityQuestion:          "Kuriame mieste ar regione galėtumėte dirbti?",
		SpecialtyQuestion:     "Kokia jūsų specialybė?",
		YearsQuestion:         "Kiek metų patirties turite kaip {specialty}?",
		AvailabilityQuestion:  "Nuo kada galėtumėte pradėti arba koks grafikas tinka?",
		SalaryDeferral:        "Ačiū už klausimą — dėl atlygio patogiausia suderinti telefonu, kolega paskambins.",
		PhoneOnlyDeferral:     "Šias detales patogiausia suderinti telefonu, kolega paskambins.",
		ProjectAnswer:         "Objektas: {city}, ieškome – {specialty}; sąlygas suderinsime telefonu.",
		IdentityLine:          "Rašau iš Valandinis.lt.",
		FallbackQuestion:      "Gal galite parašyti miestą ir kiek turite patirties (metais)?",
		FallbackYearsQuestion: "Gal galite parašyti, kiek turite darbo patirties (metais)?",
		DefaultSpecialty:      "meistras",
		Opener:                "Sveiki! Čia Valandinis.lt — matome, kad {city} turime objektą, kuriame reikalingas {specialty}. Ar šiuo metu dirbate ar atviri naujam objektui?",
		OpenerNoDetails:       "Sveiki! Čia Valandinis.lt. Ar šiuo metu dirbate ar atviri naujam objektui?",
	}
}

func defaultTemplatesEN() Templates {
	return Templates{
		ValueLine:             ValueLineEN,
		HumanClose:            HumanCloseEN,
		CallClose:             CallCloseEN,
		FutureClose:           FutureCloseEN,
		DNCClose:              DNCCloseEN,
		TrollClose:            TrollCloseEN,
		FutureProbe:           "Understood, thank you. Would you like to work with Valandinis.lt in the future?",
		InterestCheck:         "Is this offer relevant for you?",
		CityQuestion:          "Which city or region could you work in?",
		SpecialtyQuestion:     "What is your trade?",
		YearsQuestion:         "How many years of experience do you have as {specialty}?",
		AvailabilityQuestion:  "When could you start, or what schedule suits you?",
		SalaryDeferral:        "Thanks for asking. Pay is best discussed by phone, a colleague will call you.",
		PhoneOnlyDeferral:     "These details are best discussed by phone, a colleague will call you.",
		ProjectAnswer:         "The site is in {city} and we need {specialty}; terms are agreed by phone.",
		IdentityLine:          "I am writing from Valandinis.lt.",
		FallbackQuestion:      "Could you write your city and how many years of experience you have?",
		FallbackYearsQuestion: "Could you write how many years of experience you have?",
		DefaultSpecialty:      "a tradesperson",
		Opener:                "Hello! This is Valandinis.lt. We have a site in {city} that needs {specialty}. Are you working now or open to a new site?",
		OpenerNoDetails:       "Hello! This is Valandinis.lt. Are you working now or open to a new site?",
	}
}

func defaultTemplatesRU() Templates {
	return Templates{
		ValueLine:             ValueLineRU,
		HumanClose:            HumanCloseRU,
		CallClose:             CallCloseRU,
		FutureClose:           FutureCloseRU,
		DNCClose:              DNCCloseRU,
		TrollClose:            TrollCloseRU,
		FutureProbe:           "Понял, спасибо. Хотели бы вы сотрудничать с Valandinis.lt в будущем?",
		InterestCheck:         "Актуально ли для вас это предложение?",
		CityQuestion:          "В каком городе или регионе вы могли бы работать?",
		SpecialtyQuestion:     "Какая у вас специальность?",
		YearsQuestion:         "Сколько лет опыта у вас как {specialty}?",
		AvailabilityQuestion:  "Когда могли бы начать или какой график подходит?",
		SalaryDeferral:        "Спасибо за вопрос. Оплату удобнее обсудить по телефону, коллега позвонит.",
		PhoneOnlyDeferral:     "Эти детали удобнее обсудить по телефону, коллега позвонит.",
		ProjectAnswer:         "Объект в {city}, нужен {specialty}; условия согласуем по телефону.",
		IdentityLine:          "Пишу из Valandinis.lt.",
		FallbackQuestion:      "Напишите, пожалуйста, город и сколько лет у вас опыта?",
		FallbackYearsQuestion: "Напишите, пожалуйста, сколько лет у вас опыта?",
		DefaultSpecialty:      "мастер",
		Opener:                "Здравствуйте! Это Valandinis.lt. В {city} есть объект, где нужен {specialty}. Сейчас работаете или открыты к новому объекту?",
		OpenerNoDetails:       "Здравствуйте! Это Valandinis.lt. Сейчас работаете или открыты к новому объекту?",
	}
}
