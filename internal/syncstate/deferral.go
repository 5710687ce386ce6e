package syncstate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Deferred returns the IDs currently in the deferral log, in insertion
// order. A missing log is an empty set.
func (s *Store) Deferred() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDeferred()
}

// Defer adds ids to the deferral log, skipping those already present. It
// returns how many were added.
func (s *Store) Defer(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readDeferred()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		seen[id] = struct{}{}
	}

	added := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		current = append(current, id)
		added++
	}
	if added == 0 {
		if _, err := os.Stat(s.DeferralPath()); err == nil {
			return 0, nil
		}
	}
	if err := s.writeDeferred(current); err != nil {
		return 0, err
	}
	return added, nil
}

// Clear removes ids from the deferral log and returns how many were present.
func (s *Store) Clear(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readDeferred()
	if err != nil {
		return 0, err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[strings.TrimSpace(id)] = struct{}{}
	}

	kept := current[:0:0]
	for _, id := range current {
		if _, ok := drop[id]; ok {
			continue
		}
		kept = append(kept, id)
	}
	removed := len(current) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeDeferred(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) readDeferred() ([]string, error) {
	data, err := os.ReadFile(s.DeferralPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deferral log: %w", err)
	}

	var ids []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse deferral log: %w", err)
	}
	return ids, nil
}

func (s *Store) writeDeferred(ids []string) error {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(s.DeferralPath(), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write deferral log: %w", err)
	}
	return nil
}
