package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/flatten"
)

type jsonSink struct {
	dir   string
	names namer
}

func (s *jsonSink) Format() Format { return FormatJSON }

func (s *jsonSink) Export(_ context.Context, record domain.Record) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, record.Body, "", "  "); err != nil {
		return fmt.Errorf("indent %s: %w", record.ID, err)
	}
	pretty.WriteByte('\n')
	return writeFile(filepath.Join(s.dir, s.names.name(record)+".json"), pretty.Bytes())
}

// CSVNaming selects the file the rows of an audit are appended to.
type CSVNaming int

const (
	// CSVByTemplateID writes <template_id>.csv.
	CSVByTemplateID CSVNaming = iota
	// CSVByTemplateName writes "<template name> - <template_id>.csv".
	CSVByTemplateName
	// CSVSingleFile writes every audit to <config name>.csv.
	CSVSingleFile
)

// csvSink appends flattened audit rows to one file per template, or to a
// single file for the whole configuration.
type csvSink struct {
	dir        string
	naming     CSVNaming
	singleName string
	rows       func(domain.Record) ([]domain.Row, error)
}

func (s *csvSink) Format() Format { return FormatCSV }

func (s *csvSink) Export(_ context.Context, record domain.Record) error {
	rows, err := s.rows(record)
	if err != nil {
		return fmt.Errorf("flatten %s: %w", record.ID, err)
	}
	return appendCSV(filepath.Join(s.dir, s.fileName(record)+".csv"), flatten.AuditColumns, rowValues(rows, flatten.AuditColumns))
}

func (s *csvSink) fileName(record domain.Record) string {
	templateID := sanitizeFileComponent(record.TemplateID)
	if templateID == "" {
		templateID = "unknown_template"
	}
	switch s.naming {
	case CSVSingleFile:
		if name := sanitizeFileComponent(s.singleName); name != "" {
			return name
		}
	case CSVByTemplateName:
		if name := sanitizeFileComponent(flatten.TemplateName(record.Body)); name != "" {
			return name + " - " + templateID
		}
	}
	return templateID
}

// reportSink downloads the rendered PDF or Word report of an audit.
type reportSink struct {
	format      Format
	dir         string
	names       namer
	provider    Provider
	preferences map[string]string
}

func (s *reportSink) Format() Format { return s.format }

func (s *reportSink) Export(ctx context.Context, record domain.Record) error {
	apiFormat, ext := "PDF", "pdf"
	if s.format == FormatDOCX {
		apiFormat, ext = "WORD", "docx"
	}
	data, err := s.provider.FetchReport(ctx, record.ID, s.preferences[record.TemplateID], apiFormat)
	if err != nil {
		return fmt.Errorf("%s report for %s: %w", ext, record.ID, err)
	}
	return writeFile(filepath.Join(s.dir, s.names.name(record)+"."+ext), data)
}

// mediaSink saves every attachment of an audit. Files already on disk are
// not downloaded again. A failing attachment does not stop the others.
type mediaSink struct {
	dir      string
	provider Provider
	logger   *log.Logger
}

func (s *mediaSink) Format() Format { return FormatMedia }

func (s *mediaSink) Export(ctx context.Context, record domain.Record) error {
	dir := filepath.Join(s.dir, sanitizeFileComponent(record.ID))
	var failures []error
	for _, media := range flatten.MediaRefs(record.Body) {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, sanitizeFileComponent(media.ID)+"."+sanitizeFileComponent(media.Extension))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := s.provider.FetchMedia(ctx, record.ID, media.ID)
		if err == nil {
			err = writeFile(path, data)
		}
		if err != nil {
			if IsFatal(err) || errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Printf("media %s of %s failed: %v", media.ID, record.ID, err)
			failures = append(failures, fmt.Errorf("media %s: %w", media.ID, err))
		}
	}
	return errors.Join(failures...)
}

var webReportLinkHeader = []string{"Template ID", "Template Name", "Audit ID", "Audit Name", "Web Report Link"}

type webReportLinkSink struct {
	path     string
	provider Provider
}

func (s *webReportLinkSink) Format() Format { return FormatWebReportLink }

func (s *webReportLinkSink) Export(ctx context.Context, record domain.Record) error {
	link, err := s.provider.FetchWebReportLink(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("web report link for %s: %w", record.ID, err)
	}
	row := []string{
		record.TemplateID,
		flatten.TemplateName(record.Body),
		record.ID,
		flatten.AuditName(record.Body),
		link,
	}
	return appendCSV(s.path, webReportLinkHeader, [][]string{row})
}

type actionsCSVSink struct {
	path string
}

func (s *actionsCSVSink) Format() Format { return FormatActions }

func (s *actionsCSVSink) Export(_ context.Context, record domain.Record) error {
	row, err := flatten.Action(record.Body)
	if err != nil {
		return fmt.Errorf("flatten action %s: %w", record.ID, err)
	}
	return appendCSV(s.path, flatten.ActionColumns, [][]string{row.Values(flatten.ActionColumns)})
}
