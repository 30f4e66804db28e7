// Package conversation implements the recruiting conversation engine: slot extraction,
// intent classification, deterministic close rules, the per-turn reply planner and the
// outcome summarizer.
//
// The package performs no I/O of its own. Language model access is injected through the
// Model and Analyzer interfaces, and every decision is a function of the thread history.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Default engine settings.
const (
	DefaultMaxSMSLength        = 160
	DefaultYearMax             = 70
	DefaultHistoryLimit        = 14
	DefaultAnalyzerHistory     = 6
	DefaultSimilarityThreshold = 0.8
	DefaultLanguage            = "lt"
)

var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid conversation config")
)

// Config is the immutable configuration of a Planner. Build it with DefaultConfig or
// LoadConfig; the planner keeps its own copy.
type Config struct {
	Brand               string               `yaml:"brand"`
	Model               string               `yaml:"model"`
	DefaultLanguage     string               `yaml:"default_language"`
	MaxSMSLength        int                  `yaml:"max_sms_length"`
	YearMax             int                  `yaml:"year_max"`
	HistoryLimit        int                  `yaml:"history_limit"`
	AnalyzerHistory     int                  `yaml:"analyzer_history"`
	SimilarityThreshold float64              `yaml:"similarity_threshold"`
	ReplyTemperature    float64              `yaml:"reply_temperature"`
	AnalyzerTemperature float64              `yaml:"analyzer_temperature"`
	OpenerTemperature   float64              `yaml:"opener_temperature"`
	DNCPhrases          []string             `yaml:"dnc_phrases"`
	GeneratorPrompt     string               `yaml:"generator_prompt"`
	AnalyzerPrompt      string               `yaml:"analyzer_prompt"`
	OpenerPrompt        string               `yaml:"opener_prompt"`
	Languages           map[string]Templates `yaml:"languages"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Brand:               "Valandinis.lt",
		Model:               "gpt-4o-mini",
		DefaultLanguage:     DefaultLanguage,
		MaxSMSLength:        DefaultMaxSMSLength,
		YearMax:             DefaultYearMax,
		HistoryLimit:        DefaultHistoryLimit,
		AnalyzerHistory:     DefaultAnalyzerHistory,
		SimilarityThreshold: DefaultSimilarityThreshold,
		ReplyTemperature:    0.35,
		AnalyzerTemperature: 0,
		OpenerTemperature:   0.2,
		GeneratorPrompt:     generatorPrompt,
		AnalyzerPrompt:      analyzerPrompt,
		OpenerPrompt:        openerPrompt,
		Languages: map[string]Templates{
			"lt": defaultTemplatesLT(),
			"en": defaultTemplatesEN(),
			"ru": defaultTemplatesRU(),
		},
	}
}

// LoadConfig reads a YAML file and overlays it on DefaultConfig. Template fields left
// empty in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read templates file %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("parse templates file %s: %w", path, err)
	}
	cfg = overlay(cfg, file)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	slog.Debug("conversation.LoadConfig: templates loaded", "path", path, "languages", len(cfg.Languages))
	return cfg, nil
}

// overlay copies every non-zero field of src onto dst; template sets merge field by field.
func overlay(dst, src Config) Config {
	langs := make(map[string]Templates, len(dst.Languages))
	for k, v := range dst.Languages {
		langs[k] = v
	}
	for k, v := range src.Languages {
		langs[k] = mergeNonZero(langs[k], v)
	}
	src.Languages = nil
	dst = mergeNonZero(dst, src)
	dst.Languages = langs
	return dst
}

func mergeNonZero[T any](dst, src T) T {
	dv := reflect.ValueOf(&dst).Elem()
	sv := reflect.ValueOf(src)
	for i := 0; i < sv.NumField(); i++ {
		if !sv.Field(i).IsZero() {
			dv.Field(i).Set(sv.Field(i))
		}
	}
	return dst
}

// Validate checks that the configuration can drive a planner.
func (c Config) Validate() error {
	if c.MaxSMSLength < 40 {
		return fmt.Errorf("%w: max_sms_length %d too small", ErrInvalidConfig, c.MaxSMSLength)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in (0,1]", ErrInvalidConfig)
	}
	if _, ok := c.Languages[c.DefaultLanguage]; !ok {
		return fmt.Errorf("%w: default language %q has no templates", ErrInvalidConfig, c.DefaultLanguage)
	}
	seen := make(map[string]string)
	for lang, t := range c.Languages {
		for _, ct := range t.closeTexts() {
			if strings.TrimSpace(ct.text) == "" {
				return fmt.Errorf("%w: %s closing template for %s is empty", ErrInvalidConfig, lang, ct.kind)
			}
			if len([]rune(ct.text)) > c.MaxSMSLength {
				return fmt.Errorf("%w: %s closing template for %s exceeds %d characters", ErrInvalidConfig, lang, ct.kind, c.MaxSMSLength)
			}
			key := closeKey(ct.text)
			if prev, dup := seen[key]; dup && prev != string(ct.kind) {
				return fmt.Errorf("%w: closing templates for %s and %s collide", ErrInvalidConfig, prev, ct.kind)
			}
			seen[key] = string(ct.kind)
		}
		if t.InterestCheck == "" || t.FutureProbe == "" || t.YearsQuestion == "" || t.AvailabilityQuestion == "" {
			return fmt.Errorf("%w: %s question templates incomplete", ErrInvalidConfig, lang)
		}
	}
	for lang, t := range c.Languages {
		for _, s := range []string{t.ValueLine, t.FutureProbe, t.InterestCheck, t.YearsQuestion, t.AvailabilityQuestion,
			t.SalaryDeferral, t.PhoneOnlyDeferral, t.ProjectAnswer, t.IdentityLine, t.FallbackQuestion, t.FallbackYearsQuestion, t.Opener} {
			if kind := c.CloseTypeOf(s); kind != models.CloseNone {
				return fmt.Errorf("%w: %s template %q reads as a %s close", ErrInvalidConfig, lang, s, kind)
			}
		}
	}
	return nil
}

// PromptSHA returns the first 12 hex characters of the SHA-256 of the generator prompt.
func (c Config) PromptSHA() string {
	sum := sha256.Sum256([]byte(c.GeneratorPrompt))
	return hex.EncodeToString(sum[:])[:12]
}

// templates returns the template set for lang, falling back to the default language.
func (c Config) templates(lang string) Templates {
	if t, ok := c.Languages[lang]; ok {
		return t
	}
	return c.Languages[c.DefaultLanguage]
}
