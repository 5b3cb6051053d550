package services

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

var ExportFormats = []string{FormatCSV, FormatJSON, FormatXLSX}

var exportHeader = []string{"id", "source", "sourceIdentifier", "sourceDescription", "financialEdgeAccount", "createdAt", "updatedAt"}

// MappingSource is the part of the registry the exporter reads from.
type MappingSource interface {
	Count(ctx context.Context, filter models.MappingFilter) (int, error)
	Iterate(ctx context.Context, filter models.MappingFilter, fn func(*models.AccountMapping) error) error
}

// Flusher pushes buffered bytes to the client.
type Flusher interface {
	Flush() error
}

// ExportPlan is a validated, bounded export ready to stream.
type ExportPlan struct {
	Filter      models.MappingFilter
	Format      string
	ContentType string
	Filename    string
}

type ExportService struct {
	source     MappingSource
	maxRecords int
	flushEvery int
}

func NewExportService(source MappingSource, maxRecords, flushEvery int) *ExportService {
	if flushEvery <= 0 {
		flushEvery = 100
	}
	return &ExportService{source: source, maxRecords: maxRecords, flushEvery: flushEvery}
}

// Plan bounds the export window before any byte is written. A requested limit
// above the maximum, or an unlimited request matching more rows than the
// maximum, is PayloadTooLarge.
func (s *ExportService) Plan(ctx context.Context, filter models.MappingFilter, format string) (*ExportPlan, error) {
	tooLarge := domains.PayloadTooLarge(fmt.Sprintf("export is limited to %d records; narrow the filter or lower the limit", s.maxRecords))

	if filter.Limit > s.maxRecords {
		return nil, tooLarge
	}
	if filter.Limit == 0 {
		n, err := s.source.Count(ctx, filter)
		if err != nil {
			return nil, err
		}
		if n > s.maxRecords {
			return nil, tooLarge
		}
		filter.Limit = s.maxRecords
	}

	plan := &ExportPlan{Filter: filter, Format: format}
	stamp := time.Now().UTC().Format("20060102-150405")
	switch format {
	case FormatJSON:
		plan.ContentType = "application/x-ndjson"
		plan.Filename = "account-mappings-" + stamp + ".ndjson"
	case FormatXLSX:
		plan.ContentType = "application/vnd.ms-excel"
		plan.Filename = "account-mappings-" + stamp + ".xls"
	default:
		plan.Format = FormatCSV
		plan.ContentType = "text/csv; charset=utf-8"
		plan.Filename = "account-mappings-" + stamp + ".csv"
	}
	return plan, nil
}

// Stream writes the plan to w, flushing after the header and every
// flushEvery rows. It stops at the first error, including cancellation of ctx;
// the store cursor is released before Stream returns.
func (s *ExportService) Stream(ctx context.Context, plan *ExportPlan, w io.Writer, flusher Flusher) (int, error) {
	bw := bufio.NewWriterSize(w, 32<<10)
	enc := newRowEncoder(plan.Format, bw)

	flush := func() error {
		if err := bw.Flush(); err != nil {
			return err
		}
		if flusher != nil {
			return flusher.Flush()
		}
		return nil
	}

	if err := enc.begin(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}

	rows := 0
	err := s.source.Iterate(ctx, plan.Filter, func(m *models.AccountMapping) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.row(m); err != nil {
			return err
		}
		rows++
		if rows%s.flushEvery == 0 {
			return flush()
		}
		return nil
	})
	if err != nil {
		log.Printf("[export] Stopped after %d rows: %v", rows, err)
		return rows, err
	}

	if err := enc.end(); err != nil {
		return rows, err
	}
	return rows, flush()
}

type rowEncoder interface {
	begin() error
	row(m *models.AccountMapping) error
	end() error
}

func newRowEncoder(format string, w *bufio.Writer) rowEncoder {
	switch format {
	case FormatJSON:
		return &ndjsonEncoder{enc: json.NewEncoder(w)}
	case FormatXLSX:
		return &spreadsheetEncoder{w: w}
	default:
		return &csvEncoder{w: csv.NewWriter(w)}
	}
}

func fields(m *models.AccountMapping) []string {
	return []string{
		m.ID,
		string(m.Source),
		m.SourceIdentifier,
		m.SourceDescription,
		m.FinancialEdgeAccount,
		m.CreatedAt.UTC().Format(time.RFC3339),
		m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) begin() error {
	e.w.Write(exportHeader)
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) row(m *models.AccountMapping) error {
	record := fields(m)
	for i, v := range record {
		record[i] = neutralizeFormula(v)
	}
	e.w.Write(record)
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) end() error { return nil }

// neutralizeFormula keeps spreadsheet applications from evaluating a cell.
func neutralizeFormula(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@':
		return "'" + v
	}
	return v
}

type ndjsonEncoder struct {
	enc *json.Encoder
}

func (e *ndjsonEncoder) begin() error { return nil }

func (e *ndjsonEncoder) row(m *models.AccountMapping) error { return e.enc.Encode(m) }

func (e *ndjsonEncoder) end() error { return nil }

// spreadsheetEncoder writes SpreadsheetML 2003, which Excel opens and which,
// unlike a zipped workbook, can be produced row by row.
type spreadsheetEncoder struct {
	w *bufio.Writer
}

const spreadsheetPrologue = `<?xml version="1.0" encoding="UTF-8"?>
<?mso-application progid="Excel.Sheet"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
<Worksheet ss:Name="Account Mappings"><Table>
`

const spreadsheetEpilogue = "</Table></Worksheet></Workbook>\n"

func (e *spreadsheetEncoder) begin() error {
	if _, err := e.w.WriteString(spreadsheetPrologue); err != nil {
		return err
	}
	return e.writeRow(exportHeader)
}

func (e *spreadsheetEncoder) row(m *models.AccountMapping) error {
	return e.writeRow(fields(m))
}

func (e *spreadsheetEncoder) end() error {
	_, err := e.w.WriteString(spreadsheetEpilogue)
	return err
}

func (e *spreadsheetEncoder) writeRow(cells []string) error {
	e.w.WriteString("<Row>")
	for _, c := range cells {
		e.w.WriteString(`<Cell><Data ss:Type="String">`)
		if err := xml.EscapeText(e.w, []byte(c)); err != nil {
			return err
		}
		e.w.WriteString("</Data></Cell>")
	}
	_, err := e.w.WriteString("</Row>\n")
	return err
}
