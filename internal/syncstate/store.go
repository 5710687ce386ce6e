package syncstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
)

// CursorLayout is the on-disk cursor format.
const CursorLayout = "2006-01-02T15:04:05.000Z"

// DefaultCursor is handed out the first time a stream is synchronized.
var DefaultCursor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrCorruptCursor is returned when a cursor file exists but does not hold a
// timestamp.
var ErrCorruptCursor = errors.New("cursor file does not contain a valid timestamp")

// Store persists the sync cursors and the deferral log of one named
// configuration. All mutations go through a single mutex and replace whole
// files, so an interrupted write never leaves a torn file behind.
//
// Two processes sharing a configuration name are not coordinated.
type Store struct {
	dir        string
	configName string

	mu sync.Mutex
}

// New returns a store rooted at dir for the given configuration name.
// Nothing is created until the first read or write.
func New(dir, configName string) *Store {
	if strings.TrimSpace(configName) == "" {
		configName = "default"
	}
	return &Store{dir: dir, configName: configName}
}

// ConfigName returns the configuration name the files are keyed by.
func (s *Store) ConfigName() string {
	return s.configName
}

// CursorPath returns the file holding the cursor of stream.
func (s *Store) CursorPath(stream domain.Stream) string {
	name := "last_successful-" + s.configName + ".txt"
	if stream == domain.StreamActions {
		name = "last_successful_actions_export-" + s.configName + ".txt"
	}
	return filepath.Join(s.dir, "last_successful", name)
}

// DeferralPath returns the file holding deferred record IDs.
func (s *Store) DeferralPath() string {
	return filepath.Join(s.dir, "media_sync_log", "media_sync_ids-"+s.configName+".txt")
}

// Cursor returns the last successful sync timestamp of stream. A missing
// file is created with DefaultCursor.
func (s *Store) Cursor(stream domain.Stream) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCursor(stream)
}

func (s *Store) readCursor(stream domain.Stream) (time.Time, error) {
	path := s.CursorPath(stream)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeFileAtomic(path, []byte(FormatCursor(DefaultCursor))); err != nil {
			return time.Time{}, fmt.Errorf("failed to initialise %s cursor: %w", stream, err)
		}
		return DefaultCursor, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read %s cursor: %w", stream, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return DefaultCursor, nil
	}
	ts, err := ParseCursor(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %q", ErrCorruptCursor, path, raw)
	}
	return ts, nil
}

// SetCursor overwrites the cursor of stream. It does not enforce
// monotonicity and is what a manual rewind uses.
func (s *Store) SetCursor(stream domain.Stream, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCursor(stream, ts)
}

func (s *Store) writeCursor(stream domain.Stream, ts time.Time) error {
	if err := writeFileAtomic(s.CursorPath(stream), []byte(FormatCursor(ts))); err != nil {
		return fmt.Errorf("failed to write %s cursor: %w", stream, err)
	}
	return nil
}

// AdvanceCursor moves the cursor of stream forward to ts. A ts at or before
// the stored value leaves the file untouched. The resulting cursor is
// returned.
func (s *Store) AdvanceCursor(stream domain.Stream, ts time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readCursor(stream)
	if err != nil {
		return time.Time{}, err
	}
	ts = ts.UTC().Truncate(time.Millisecond)
	if !ts.After(current) {
		return current, nil
	}
	if err := s.writeCursor(stream, ts); err != nil {
		return current, err
	}
	return ts, nil
}

// FormatCursor renders ts in CursorLayout.
func FormatCursor(ts time.Time) string {
	return ts.UTC().Format(CursorLayout)
}

// ParseCursor accepts CursorLayout and any RFC 3339 timestamp.
func ParseCursor(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{CursorLayout, time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
