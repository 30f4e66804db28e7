package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/genai"
	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// State is the planner state a thread is in after a reply.
type State string

const (
	StateOpenNew          State = "OPEN_NEW"
	StateAwaitingSlot     State = "OPEN_AWAITING_SLOT"
	StateAwaitingInterest State = "OPEN_AWAITING_INTEREST"
	StateProbingFuture    State = "OPEN_PROBING_FUTURE"
	StateClosed           State = "CLOSED"
)

// Reply is the planner's decision for one inbound message. An empty Text means no
// outbound message is sent.
type Reply struct {
	Text     string
	State    State
	Awaiting models.Slot
	Close    models.CloseType
	MarkDNC  bool
	Rule     int
	Plan     models.Plan
	Outcome  *models.Outcome
	Language string

	// Debug is set for the prompt-info command; the thread must not be touched.
	Debug bool
	// Silent is set when the thread was already closed and the inbound is swallowed.
	Silent bool
	// Ack is set for a swallowed politeness acknowledgement.
	Ack bool
	// Generated is set when Text came from the language model.
	Generated bool
	// Degraded is set when a model call failed and a deterministic fallback was used.
	Degraded bool
}

// Planner decides the reply to every inbound message of a thread.
type Planner struct {
	cfg        Config
	model      genai.Model
	analyzer   Analyzer
	timeout    time.Duration
	classifier *Classifier
	closeKeys  []string
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel sets the language model used for neutral turns and openers. Unless
// WithAnalyzer is given, the model also backs the structured analyzer.
func WithModel(m genai.Model) Option {
	return func(p *Planner) {
		p.model = m
	}
}

// WithAnalyzer overrides the analyzer used for ambiguous messages.
func WithAnalyzer(a Analyzer) Option {
	return func(p *Planner) {
		p.analyzer = a
	}
}

// WithLLMTimeout bounds each model call.
func WithLLMTimeout(d time.Duration) Option {
	return func(p *Planner) {
		p.timeout = d
	}
}

// NewPlanner creates a planner over a copy of cfg.
func NewPlanner(cfg Config, opts ...Option) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{cfg: cfg, timeout: DefaultLLMTimeout}
	p.cfg.Languages = make(map[string]Templates, len(cfg.Languages))
	for k, v := range cfg.Languages {
		p.cfg.Languages[k] = v
	}
	p.cfg.DNCPhrases = append([]string(nil), cfg.DNCPhrases...)
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzer == nil && p.model != nil {
		p.analyzer = NewLLMAnalyzer(p.model, p.cfg)
	}
	p.classifier = NewClassifier(p.cfg, p.analyzer, p.timeout)
	for _, t := range p.cfg.Languages {
		for _, ct := range t.closeTexts() {
			p.closeKeys = append(p.closeKeys, closeKey(ct.text))
		}
	}
	return p, nil
}

// Config returns the planner's configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// PromptInfo returns "<prompt sha> <model>", the answer to the debug command.
func (p *Planner) PromptInfo() string {
	model := p.cfg.Model
	if p.model != nil {
		model = p.model.Name()
	}
	return p.cfg.PromptSHA() + " " + model
}

// IsDebugCommand reports whether text asks for prompt information.
func IsDebugCommand(text string) bool {
	switch strings.ToLower(strings.TrimLeft(strings.TrimSpace(text), `\`)) {
	case "!prompt", "!pf", "##prompt##":
		return true
	}
	return false
}

// Respond plans the reply to turn. It never fails: model errors degrade to the
// deterministic next question.
func (p *Planner) Respond(ctx context.Context, turn Turn) Reply {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return Reply{Silent: true}
	}
	if IsDebugCommand(text) {
		return Reply{Text: FinalSMS(p.PromptInfo(), p.cfg.MaxSMSLength), Debug: true}
	}
	turn.Text = text

	view := p.classifier.view(turn.History)
	if turn.Thread.Closed() || turn.Thread.LastCloseType != models.CloseNone || p.CloseTypeOf(view.lastOutbound) != models.CloseNone {
		sig := readSignals(text, p.cfg.DNCPhrases)
		slog.Debug("Planner.Respond: thread closed, staying silent", "thread_id", turn.Thread.ID, "ack", sig.ack)
		return Reply{State: StateClosed, Silent: true, Ack: sig.ack}
	}

	lang := p.language(text, view)
	tpl := p.cfg.templates(lang)
	plan, err := p.classifier.classify(ctx, turn, view)
	reply := Reply{Plan: plan, Language: lang, Degraded: err != nil}

	dec := Decide(plan, RuleState{FutureProbeAsked: view.probeAsked})
	switch dec.Action {
	case ActionClose:
		return p.close(reply, turn, dec, tpl)
	case ActionFutureProbe:
		reply.Rule = dec.Rule
		reply.Text = FinalSMS(tpl.FutureProbe, p.cfg.MaxSMSLength)
		reply.State = StateProbingFuture
		return reply
	}

	f := filter{tpl: tpl, view: view, plan: plan, threshold: p.cfg.SimilarityThreshold, closeKeys: p.closeKeys}
	wantInterest := plan.JobInterest != models.InterestYes &&
		(plan.Intent == models.IntentHesitant || plan.JobInterest == models.InterestUnsure)
	if view.userTurns == 0 && (plan.Intent.IsQuestion() || plan.Intent == models.IntentIdentityQuestion) {
		wantInterest = true
	}
	q, kind, ok := p.nextQuestion(plan, view, tpl, wantInterest)
	if !ok {
		// Interest is confirmed but the remaining slots were asked twice without an answer.
		return p.close(reply, turn, Decision{Rule: 4, Action: ActionClose, Close: models.CloseHuman}, tpl)
	}
	reply.State, reply.Awaiting = stateFor(kind)

	switch {
	case plan.Intent.IsQuestion():
		reply.Text = compose(p.cfg.MaxSMSLength, q, p.identityLine(tpl, view, true), p.answer(plan, tpl, f))
	case plan.Intent == models.IntentIdentityQuestion:
		reply.Text = compose(p.cfg.MaxSMSLength, q, p.identityLine(tpl, view, false))
	case plan.Intent == models.IntentHesitant:
		value := ""
		if !view.valueLineUsed {
			value = tpl.ValueLine
		}
		reply.Text = compose(p.cfg.MaxSMSLength, q, value)
	case plan.JobInterest == models.InterestYes || plan.Intent == models.IntentAccept:
		reply.Text = compose(p.cfg.MaxSMSLength, q)
	default:
		reply.Text = p.neutral(ctx, turn, plan, f, q, lang, &reply)
	}
	reply.Text = FinalSMS(reply.Text, p.cfg.MaxSMSLength)
	return reply
}

func stateFor(kind askKind) (State, models.Slot) {
	if slot, ok := kind.slot(); ok {
		return StateAwaitingSlot, slot
	}
	if kind == askInterest {
		return StateAwaitingInterest, ""
	}
	return StateAwaitingSlot, ""
}

func (p *Planner) close(reply Reply, turn Turn, dec Decision, tpl Templates) Reply {
	reply.Rule = dec.Rule
	reply.Text = FinalSMS(dec.text(tpl), p.cfg.MaxSMSLength)
	reply.State = StateClosed
	reply.Close = dec.Close
	reply.MarkDNC = dec.MarkDNC
	out := outcomeForClose(dec.Close, reply.Plan.Slots)
	out.ThreadID = turn.Thread.ID
	reply.Outcome = &out
	slog.Debug("Planner.Respond: closing thread", "thread_id", turn.Thread.ID, "rule", dec.Rule, "close_type", dec.Close)
	return reply
}

// nextQuestion picks the single qualifying question of the reply. ok is false when the
// contact is interested and nothing is left to ask.
func (p *Planner) nextQuestion(plan models.Plan, view threadView, tpl Templates, wantInterest bool) (string, askKind, bool) {
	if wantInterest && view.asks[askInterest] < 2 {
		return tpl.InterestCheck, askInterest, true
	}
	if slot, ok := nextSlot(plan.Slots, view); ok {
		return fillTemplate(slotQuestion(tpl, slot), plan.Slots, tpl), askFor(slot), true
	}
	if plan.JobInterest == models.InterestYes {
		return "", askNone, false
	}
	if view.asks[askInterest] < 2 {
		return tpl.InterestCheck, askInterest, true
	}
	// Everything was asked. The fallback goes out once; later turns carry no question.
	if view.fallbackUsed {
		return "", askNone, true
	}
	switch {
	case plan.Slots.City == "":
		return tpl.FallbackQuestion, askNone, true
	case !plan.Slots.Known(models.SlotYears):
		return tpl.FallbackYearsQuestion, askNone, true
	}
	return "", askNone, true
}

// nextSlot returns the first missing slot that may still be asked. A slot asked twice
// without an answer is not asked again, and availability waits for years.
func nextSlot(slots models.Slots, view threadView) (models.Slot, bool) {
	for _, slot := range models.SlotOrder {
		if slots.Known(slot) {
			continue
		}
		if slot == models.SlotAvailability && !slots.Known(models.SlotYears) {
			return "", false
		}
		if view.asks[askFor(slot)] >= 2 {
			if slot == models.SlotYears {
				return "", false
			}
			continue
		}
		return slot, true
	}
	return "", false
}

func slotQuestion(t Templates, slot models.Slot) string {
	switch slot {
	case models.SlotCity:
		return t.CityQuestion
	case models.SlotSpecialty:
		return t.SpecialtyQuestion
	case models.SlotYears:
		return t.YearsQuestion
	}
	return t.AvailabilityQuestion
}

func fillTemplate(s string, slots models.Slots, t Templates) string {
	specialty := slots.Specialty
	if specialty == "" {
		specialty = t.DefaultSpecialty
	}
	return strings.NewReplacer("{city}", slots.City, "{specialty}", specialty).Replace(s)
}

func (p *Planner) identityLine(tpl Templates, view threadView, firstOnly bool) string {
	if view.identityUsed || (firstOnly && view.userTurns > 0) {
		return ""
	}
	return tpl.IdentityLine
}

// answer is the one-line factual answer to a job question. It is empty when the thread
// already covered it.
func (p *Planner) answer(plan models.Plan, tpl Templates, f filter) string {
	var a string
	switch {
	case plan.Intent == models.IntentSalaryQuestion || plan.AskedSalary:
		a = tpl.SalaryDeferral
	case len(plan.PhoneOnlyTopics) > 0:
		a = tpl.PhoneOnlyDeferral
	case plan.Intent == models.IntentScheduleQuestion && !f.view.valueLineUsed:
		a = tpl.ValueLine
	case plan.Slots.City != "" || plan.Slots.Specialty != "":
		a = fillTemplate(tpl.ProjectAnswer, plan.Slots, tpl)
		if plan.Slots.City == "" {
			a = tpl.PhoneOnlyDeferral
		}
	default:
		a = tpl.PhoneOnlyDeferral
	}
	if f.repeats(a) {
		return ""
	}
	return a
}

// neutral phrases a non-terminal turn with the model, falling back to q.
func (p *Planner) neutral(ctx context.Context, turn Turn, plan models.Plan, f filter, q, lang string, reply *Reply) string {
	if p.model == nil {
		return q
	}
	payload, err := json.Marshal(map[string]any{
		"language":      lang,
		"plan":          plan,
		"next_slot":     reply.Awaiting,
		"next_question": q,
	})
	if err != nil {
		reply.Degraded = true
		return q
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.model.Complete(cctx, genai.CompletionRequest{
		Operation:   "generate",
		System:      p.cfg.GeneratorPrompt,
		Messages:    append(contextMessages(tail(turn.History, p.cfg.HistoryLimit)), genai.Message{Role: genai.RoleUser, Content: turn.Text + "\n\n" + string(payload)}),
		Temperature: p.cfg.ReplyTemperature,
		MaxTokens:   140,
	})
	if err != nil {
		slog.Warn("Planner.Respond: generation failed, using next question", "thread_id", turn.Thread.ID, "error", err)
		reply.Degraded = true
		return q
	}
	text := f.model(out)
	if text == "" {
		return q
	}
	text = f.slotOrderGuard(text, fillTemplate(f.tpl.YearsQuestion, plan.Slots, f.tpl))
	if !strings.Contains(text, "?") {
		text = compose(p.cfg.MaxSMSLength, q, text)
	}
	reply.Generated = true
	return text
}

// language mirrors the latest message, then earlier user messages, then the default.
func (p *Planner) language(latest string, view threadView) string {
	candidates := append([]string{latest}, reverse(view.userTexts)...)
	for _, c := range candidates {
		if lang := DetectLanguage(c); lang != "" {
			if _, ok := p.cfg.Languages[lang]; ok {
				return lang
			}
		}
	}
	return p.cfg.DefaultLanguage
}

func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

// Opener returns the first message of an outreach. It asks the model when one is
// configured and falls back to the fixed template.
func (p *Planner) Opener(ctx context.Context, city, specialty string) string {
	tpl := p.cfg.templates(p.cfg.DefaultLanguage)
	city, specialty = strings.TrimSpace(city), strings.TrimSpace(specialty)
	if city == "" || specialty == "" {
		return FinalSMS(tpl.OpenerNoDetails, p.cfg.MaxSMSLength)
	}
	fallback := fillTemplate(tpl.Opener, models.Slots{City: city, Specialty: specialty}, tpl)
	if len([]rune(fallback)) > p.cfg.MaxSMSLength {
		fallback = tpl.OpenerNoDetails
	}
	if p.model == nil {
		return fallback
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.model.Complete(cctx, genai.CompletionRequest{
		Operation:   "opener",
		System:      p.cfg.OpenerPrompt,
		Messages:    []genai.Message{{Role: genai.RoleUser, Content: fmt.Sprintf("Miestas: %s\nSpecialybė: %s", city, specialty)}},
		Temperature: p.cfg.OpenerTemperature,
		MaxTokens:   120,
	})
	if err != nil {
		slog.Warn("Planner.Opener: generation failed, using template", "error", err)
		return fallback
	}
	f := filter{tpl: tpl, threshold: p.cfg.SimilarityThreshold, closeKeys: p.closeKeys}
	text := f.model(out)
	if text == "" || strings.Count(text, "?") != 1 || len([]rune(text)) > p.cfg.MaxSMSLength {
		return fallback
	}
	return text
}
