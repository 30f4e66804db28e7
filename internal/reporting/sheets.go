package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsSink appends events as rows of a Google Sheets spreadsheet.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string
	retries       int
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewSheetsSink builds a sink for spreadsheetID. Authentication and endpoint come from
// opts, typically option.WithCredentialsFile.
func NewSheetsSink(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsSink, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetsSink{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheet:         LeadsSheet,
		retries:       3,
		sleep:         sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureHeaders creates the Leads sheet when missing and writes the header row when
// the first row is empty.
func (s *SheetsSink) EnsureHeaders(ctx context.Context) error {
	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	exists := false
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheet {
			exists = true
			break
		}
	}
	if !exists {
		req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.sheet}},
		}}}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", s.sheet, err)
		}
		slog.Info("SheetsSink.EnsureHeaders: created sheet", "sheet", s.sheet)
	} else {
		first, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!1:1").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to read header row: %w", err)
		}
		if len(first.Values) > 0 {
			return nil
		}
	}

	row := make([]any, len(Headers))
	for i, h := range Headers {
		row[i] = h
	}
	vr := &sheets.ValueRange{Values: [][]any{row}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.sheet+"!1:1", vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	slog.Info("SheetsSink.EnsureHeaders: headers written", "sheet", s.sheet)
	return nil
}

// Append implements Sink. Rate limiting and transient server errors are retried.
func (s *SheetsSink) Append(ctx context.Context, e Event) error {
	vr := &sheets.ValueRange{Values: [][]any{e.Row()}}
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.sheet+"!A1", vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err == nil {
			if resp.Updates != nil {
				slog.Debug("SheetsSink.Append: row appended", "range", resp.Updates.UpdatedRange)
			}
			return nil
		}
		lastErr = err
		slog.Warn("SheetsSink.Append: append attempt failed", "attempt", attempt, "error", err)
		if !retryable(err) || attempt == s.retries {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*800*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("sheets append: %w", lastErr)
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case 429, 500, 503:
		return true
	}
	return false
}
