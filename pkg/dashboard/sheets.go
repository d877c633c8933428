package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

const (
	serviceName = "dashboard"
	sheetName   = "Items"
)

// Sheets is the Google Sheets-backed Adapter. Every API call goes through
// the resilient call layer under the dashboard service's breaker and
// bulkhead.
type Sheets struct {
	svc           *sheets.Service
	caller        *resilience.Caller
	spreadsheetID string
}

// NewSheets builds the adapter and bootstraps the header row if the sheet
// is empty.
func NewSheets(ctx context.Context, spreadsheetID, credentialsFile string, caller *resilience.Caller) (*Sheets, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, errkind.New(errkind.Auth, fmt.Errorf("creating sheets client: %w", err)).
			WithService(serviceName)
	}
	s := &Sheets{svc: svc, caller: caller, spreadsheetID: spreadsheetID}
	if err := s.ensureHeader(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sheets) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.caller.Do(ctx, resilience.CallSpec{
		Service:     serviceName,
		Class:       resilience.ClassAPI,
		MaxAttempts: 3,
	}, fn)
}

// classify maps Google API failures onto the error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errkind.New(errkind.FromHTTPStatus(gerr.Code), err).WithService(serviceName)
	}
	return errkind.New(errkind.KindOf(err), err).WithService(serviceName)
}

func (s *Sheets) ensureHeader(ctx context.Context) error {
	var resp *sheets.ValueRange
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.
			Get(s.spreadsheetID, sheetName+"!A1:K1").
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("reading dashboard header: %w", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	err = s.do(ctx, func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.
			Update(s.spreadsheetID, sheetName+"!A1",
				&sheets.ValueRange{Values: [][]any{header}}).
			ValueInputOption("RAW").Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("writing dashboard header: %w", err)
	}
	slog.Info("Dashboard header bootstrapped", "spreadsheet_id", s.spreadsheetID)
	return nil
}

// ListItems implements Adapter.
func (s *Sheets) ListItems(ctx context.Context) ([]Row, error) {
	var resp *sheets.ValueRange
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.
			Get(s.spreadsheetID, sheetName+"!A2:K").
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("listing dashboard rows: %w", err)
	}

	rows := make([]Row, 0, len(resp.Values))
	for i, cells := range resp.Values {
		row := rowFromCells(int64(i)+2, cells)
		if row.ItemID == "" {
			continue // blank or partially deleted row
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetItem implements Adapter.
func (s *Sheets) GetItem(ctx context.Context, itemID string) (Row, error) {
	rows, err := s.ListItems(ctx)
	if err != nil {
		return Row{}, err
	}
	for _, r := range rows {
		if r.ItemID == itemID {
			return r, nil
		}
	}
	return Row{}, ErrRowNotFound
}

// AppendItem implements Adapter.
func (s *Sheets) AppendItem(ctx context.Context, row Row) (int64, error) {
	if row.CreatedAt == "" {
		row.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	fields := row.Fields()
	cells := make([]any, len(Columns))
	for i, c := range Columns {
		cells[i] = fields[c]
	}

	var resp *sheets.AppendValuesResponse
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.
			Append(s.spreadsheetID, sheetName+"!A:K",
				&sheets.ValueRange{Values: [][]any{cells}}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return 0, fmt.Errorf("appending dashboard row: %w", err)
	}

	index := int64(0)
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		index = rowIndexFromRange(resp.Updates.UpdatedRange)
	}
	slog.Info("Dashboard row appended", "item_id", row.ItemID, "row", index)
	return index, nil
}

// UpdateFields implements Adapter. The read-check-write runs as one logical
// operation: the status cell is re-read immediately before the write, and a
// mismatch aborts with ErrStale.
func (s *Sheets) UpdateFields(ctx context.Context, itemID string, fields map[string]string, expectedStatus string) error {
	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if expectedStatus != "" && current.Status != expectedStatus {
		return fmt.Errorf("%w: status is %q, expected %q", ErrStale, current.Status, expectedStatus)
	}

	updated := current
	if err := (&updated).apply(fields); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	all := updated.Fields()
	cells := make([]any, len(Columns))
	for i, c := range Columns {
		cells[i] = all[c]
	}
	writeRange := fmt.Sprintf("%s!A%d:K%d", sheetName, current.Index, current.Index)

	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.
			Update(s.spreadsheetID, writeRange,
				&sheets.ValueRange{Values: [][]any{cells}}).
			ValueInputOption("RAW").Context(ctx).Do()
		return classify(err)
	})
}

func rowFromCells(index int64, cells []any) Row {
	get := func(i int) string {
		if i >= len(cells) {
			return ""
		}
		s, _ := cells[i].(string)
		return s
	}
	return Row{
		Index:        index,
		ItemID:       get(0),
		Source:       get(1),
		Title:        get(2),
		Status:       get(3),
		Script:       get(4),
		AudioPath:    get(5),
		VideoPath:    get(6),
		PublishedURL: get(7),
		Error:        get(8),
		CreatedAt:    get(9),
		UpdatedAt:    get(10),
	}
}

// rowIndexFromRange parses the leading row number out of an A1-notation
// range like "Items!A7:K7".
func rowIndexFromRange(a1 string) int64 {
	var row int64
	seenDigit := false
	for _, r := range a1 {
		if r >= '0' && r <= '9' {
			row = row*10 + int64(r-'0')
			seenDigit = true
			continue
		}
		if seenDigit {
			break
		}
	}
	return row
}
