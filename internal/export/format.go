package export

import (
	"fmt"
	"strings"

	"github.com/rpattn/auditsync/internal/domain"
)

// Format names one output sink.
type Format string

const (
	FormatJSON          Format = "json"
	FormatCSV           Format = "csv"
	FormatExcel         Format = "excel"
	FormatPDF           Format = "pdf"
	FormatDOCX          Format = "docx"
	FormatMedia         Format = "media"
	FormatActions       Format = "actions"
	FormatWebReportLink Format = "web-report-link"
	FormatSQL           Format = "sql"
	FormatActionsSQL    Format = "actions-sql"
)

// Order is the dispatch order: file outputs first, then the report link and
// the databases.
var Order = []Format{
	FormatJSON,
	FormatCSV,
	FormatExcel,
	FormatPDF,
	FormatDOCX,
	FormatMedia,
	FormatActions,
	FormatWebReportLink,
	FormatSQL,
	FormatActionsSQL,
}

// Stream reports which record stream the format consumes.
func (f Format) Stream() domain.Stream {
	if f == FormatActions || f == FormatActionsSQL {
		return domain.StreamActions
	}
	return domain.StreamAudits
}

// ParseFormats validates names and returns them de-duplicated in dispatch
// order.
func ParseFormats(names []string) ([]Format, error) {
	wanted := make(map[Format]bool, len(names))
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		if f == "" {
			continue
		}
		if !f.valid() {
			return nil, fmt.Errorf("unknown export format %q", name)
		}
		wanted[f] = true
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("no export format selected")
	}
	out := make([]Format, 0, len(wanted))
	for _, f := range Order {
		if wanted[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Streams lists the streams the formats need, audits first.
func Streams(formats []Format) []domain.Stream {
	var audits, actions bool
	for _, f := range formats {
		switch f.Stream() {
		case domain.StreamActions:
			actions = true
		default:
			audits = true
		}
	}
	var out []domain.Stream
	if audits {
		out = append(out, domain.StreamAudits)
	}
	if actions {
		out = append(out, domain.StreamActions)
	}
	return out
}

func (f Format) valid() bool {
	for _, known := range Order {
		if f == known {
			return true
		}
	}
	return false
}

func (f Format) callsAPI() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatMedia, FormatWebReportLink:
		return true
	}
	return false
}
