package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/repository"
)

// Sink writes one record to one destination.
type Sink interface {
	Format() Format
	Export(ctx context.Context, record domain.Record) error
}

// BatchSink buffers records and writes them in Flush, which the dispatcher
// calls once at the end of every batch. Reset drops anything buffered by a
// batch that was abandoned.
type BatchSink interface {
	Sink
	Flush(ctx context.Context) error
	Reset()
}

// Provider is the subset of the API client the sinks call.
type Provider interface {
	FetchMedia(ctx context.Context, recordID, mediaID string) ([]byte, error)
	FetchReport(ctx context.Context, id, preferenceID, format string) ([]byte, error)
	FetchWebReportLink(ctx context.Context, id string) (string, error)
}

// Deps carries what the sinks need. Repositories are only required for the
// SQL formats and Provider only for the formats that call the API.
type Deps struct {
	Dir            string
	FilenameItemID string
	// Preferences maps template IDs to report preference IDs.
	Preferences map[string]string
	Provider    Provider
	AuditRows   repository.RowRepository
	ActionRows  repository.RowRepository
	Logger      *log.Logger

	// SkipInactiveItems drops items hidden by template logic from the CSV
	// and SQL rows.
	SkipInactiveItems bool
	CSVNaming         CSVNaming
	// ConfigName names the file under CSVSingleFile.
	ConfigName string
}

// New builds the sinks for formats in dispatch order.
func New(formats []Format, deps Deps) ([]Sink, error) {
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	if strings.TrimSpace(deps.Dir) == "" {
		return nil, errors.New("export directory is not configured")
	}
	deps.Dir = filepath.Clean(deps.Dir)
	names := namer{itemID: deps.FilenameItemID}
	audits := auditRows(deps.SkipInactiveItems)

	sinks := make([]Sink, 0, len(formats))
	for _, f := range formats {
		if f.callsAPI() && deps.Provider == nil {
			return nil, fmt.Errorf("%s export needs an API client", f)
		}
		var s Sink
		switch f {
		case FormatJSON:
			s = &jsonSink{dir: filepath.Join(deps.Dir, "json"), names: names}
		case FormatCSV:
			s = &csvSink{
				dir:        filepath.Join(deps.Dir, "csv"),
				naming:     deps.CSVNaming,
				singleName: deps.ConfigName,
				rows:       audits,
			}
		case FormatExcel:
			s = &excelSink{dir: filepath.Join(deps.Dir, "excel"), names: names}
		case FormatPDF, FormatDOCX:
			s = &reportSink{
				format:      f,
				dir:         filepath.Join(deps.Dir, string(f)),
				names:       names,
				provider:    deps.Provider,
				preferences: deps.Preferences,
			}
		case FormatMedia:
			s = &mediaSink{dir: filepath.Join(deps.Dir, "media"), provider: deps.Provider, logger: deps.Logger}
		case FormatWebReportLink:
			s = &webReportLinkSink{path: filepath.Join(deps.Dir, "web-report-links.csv"), provider: deps.Provider}
		case FormatActions:
			s = &actionsCSVSink{path: filepath.Join(deps.Dir, "actions.csv")}
		case FormatSQL:
			if deps.AuditRows == nil {
				return nil, errors.New("sql export needs a database connection")
			}
			s = &sqlSink{format: f, repo: deps.AuditRows, flatten: audits}
		case FormatActionsSQL:
			if deps.ActionRows == nil {
				return nil, errors.New("actions-sql export needs a database connection")
			}
			s = &sqlSink{format: f, repo: deps.ActionRows, flatten: actionRows}
		default:
			return nil, fmt.Errorf("unknown export format %q", f)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// ForStream keeps the sinks that consume stream, preserving order.
func ForStream(sinks []Sink, stream domain.Stream) []Sink {
	var out []Sink
	for _, s := range sinks {
		if s.Format().Stream() == stream {
			out = append(out, s)
		}
	}
	return out
}
