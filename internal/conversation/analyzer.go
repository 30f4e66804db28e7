package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/BTreeMap/RecruitPipe/internal/genai"
	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Analyzer performs the combined intent and slot analysis of an ambiguous message.
type Analyzer interface {
	Analyze(ctx context.Context, history []models.Message, latest string) (models.Plan, error)
}

// analysis is the structured response requested from the model.
type analysis struct {
	JobInterest     string        `json:"job_interest" jsonschema:"enum=yes,enum=no,enum=unsure,enum=unknown"`
	FutureInterest  string        `json:"future_interest" jsonschema:"enum=yes,enum=no,enum=unsure,enum=unknown"`
	Intent          string        `json:"intent" jsonschema:"enum=identity_question,enum=project_question,enum=salary_question,enum=schedule_question,enum=location_question,enum=direct_question,enum=call_request,enum=accept,enum=decline,enum=hesitant,enum=future_probe_response,enum=unrelated,enum=other"`
	Slots           analysisSlots `json:"slots"`
	AskedSalary     bool          `json:"asked_salary"`
	PhoneOnlyTopics []string      `json:"phone_only_topics"`
	BusyUntil       *string       `json:"busy_until"`
	Hesitant        bool          `json:"hesitant"`
	AgeQuestion     bool          `json:"age_question"`
	AgeValue        *int          `json:"age_value"`
	Trolling        bool          `json:"trolling"`
}

type analysisSlots struct {
	Years            *int    `json:"years"`
	AvailabilityText *string `json:"availability_text"`
}

var analysisSchema = (&jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}).Reflect(&analysis{})

// LLMAnalyzer asks a language model for a structured analysis.
type LLMAnalyzer struct {
	model       genai.Model
	prompt      string
	temperature float64
	history     int
	yearMax     int
}

// NewLLMAnalyzer builds an analyzer over model using the analyzer prompt of cfg.
func NewLLMAnalyzer(model genai.Model, cfg Config) *LLMAnalyzer {
	return &LLMAnalyzer{
		model:       model,
		prompt:      cfg.AnalyzerPrompt,
		temperature: cfg.AnalyzerTemperature,
		history:     cfg.AnalyzerHistory,
		yearMax:     cfg.YearMax,
	}
}

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, history []models.Message, latest string) (models.Plan, error) {
	var out analysis
	req := genai.StructuredRequest{
		Operation:   "analyze",
		System:      a.prompt,
		Messages:    append(contextMessages(tail(history, a.history)), genai.Message{Role: genai.RoleUser, Content: latest}),
		SchemaName:  "sms_analysis",
		Schema:      analysisSchema,
		Temperature: a.temperature,
	}
	if err := a.model.CompleteStructured(ctx, req, &out); err != nil {
		return models.Plan{}, fmt.Errorf("analyze: %w", err)
	}
	return out.plan(a.yearMax), nil
}

func (a analysis) plan(yearMax int) models.Plan {
	p := models.Plan{
		JobInterest:     models.ParseInterest(a.JobInterest),
		FutureInterest:  models.ParseInterest(a.FutureInterest),
		Intent:          models.ParseIntent(a.Intent),
		AskedSalary:     a.AskedSalary,
		PhoneOnlyTopics: a.PhoneOnlyTopics,
		Hesitant:        a.Hesitant,
		AgeQuestion:     a.AgeQuestion,
		AgeValue:        a.AgeValue,
		Trolling:        a.Trolling,
	}
	if y := a.Slots.Years; y != nil && *y >= 0 && *y <= yearMax {
		v := *y
		p.Slots.Years = &v
	}
	if s := a.Slots.AvailabilityText; s != nil {
		p.Slots.Availability = clip(strings.TrimSpace(*s), 120)
	}
	if a.BusyUntil != nil {
		p.BusyUntil = strings.TrimSpace(*a.BusyUntil)
	}
	return p
}

func tail(history []models.Message, n int) []models.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func contextMessages(history []models.Message) []genai.Message {
	out := make([]genai.Message, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Direction == models.DirectionOut {
			role = genai.RoleAssistant
		}
		out = append(out, genai.Message{Role: role, Content: m.Body})
	}
	return out
}
