package genai

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BTreeMap/RecruitPipe/internal/metrics"
	"github.com/BTreeMap/RecruitPipe/internal/tracing"
)

// Instrumented wraps a Model with a span and prometheus metrics per call.
type Instrumented struct {
	next Model
}

// Instrument wraps m.
func Instrument(m Model) *Instrumented {
	return &Instrumented{next: m}
}

// Name returns the wrapped model's name.
func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) observe(ctx context.Context, op string, call func(context.Context) error) error {
	if op == "" {
		op = "complete"
	}
	ctx, span := tracing.Tracer().Start(ctx, "genai."+op)
	span.SetAttributes(attribute.String("llm.model", i.next.Name()))
	defer span.End()

	start := time.Now()
	err := call(ctx)
	metrics.ObserveLLM(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Complete delegates to the wrapped model.
func (i *Instrumented) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var out string
	err := i.observe(ctx, req.Operation, func(ctx context.Context) error {
		var err error
		out, err = i.next.Complete(ctx, req)
		return err
	})
	return out, err
}

// CompleteStructured delegates to the wrapped model.
func (i *Instrumented) CompleteStructured(ctx context.Context, req StructuredRequest, out any) error {
	return i.observe(ctx, req.Operation, func(ctx context.Context) error {
		return i.next.CompleteStructured(ctx, req, out)
	})
}
