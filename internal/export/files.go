package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/flatten"
)

// namer picks output file names for a record: the response of the configured
// item when present, else the record ID.
type namer struct {
	itemID string
}

func (n namer) name(record domain.Record) string {
	if n.itemID != "" {
		if value, ok := flatten.ItemResponse(record.Body, n.itemID); ok {
			if name := sanitizeFileComponent(value); name != "" {
				return name
			}
		}
	}
	if name := sanitizeFileComponent(record.ID); name != "" {
		return name
	}
	return "record"
}

const maxFileComponent = 200

// sanitizeFileComponent keeps letters, digits, '-' and '_' and turns every
// other rune into '-'. The result is at most maxFileComponent runes.
func sanitizeFileComponent(value string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	for _, r := range value {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	result := strings.Trim(b.String(), "-")
	if runes := []rune(result); len(runes) > maxFileComponent {
		result = string(runes[:maxFileComponent])
	}
	return result
}

// writeFile stages data in a temp file in the target directory and renames it
// into place, so readers never see a partial file.
func writeFile(path string, data []byte) error {
	return promote(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func promote(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := write(tempFile); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false
	return nil
}

// appendCSV appends rows to path, writing header first when the file is new
// or empty.
func appendCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	buffered := bufio.NewWriter(file)
	csvWriter := csv.NewWriter(buffered)
	if info.Size() == 0 {
		if err := csvWriter.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := csvWriter.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	return file.Sync()
}

func rowValues(rows []domain.Row, columns []string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = row.Values(columns)
	}
	return out
}
