// Package storage provides the file-backed word store used by dictd.
//
// A Store keeps every word in memory and rewrites the whole dictionary
// file after each mutation. A mutation whose rewrite fails is undone, so
// the in-memory state never differs from the last durable file.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Store is a concurrency-safe dictionary backed by a text file.
type Store struct {
	path string
	log  *slog.Logger

	mu    sync.Mutex
	words map[string][]string
}

// Open loads the dictionary at path. A missing file yields an empty store;
// the file is created by the first successful mutation.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		path:  path,
		log:   log.With("component", "storage"),
		words: map[string][]string{},
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("dictionary file not found, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	words, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	s.words = words
	s.log.Info("loaded dictionary", "path", path, "words", len(words))
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Len returns the number of words.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.words)
}

// Words returns all words in sorted order.
func (s *Store) Words() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.words))
}

// Snapshot returns a deep copy of the dictionary.
func (s *Store) Snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.words))
	for w, ms := range s.words {
		out[w] = slices.Clone(ms)
	}
	return out
}

// Search returns a copy of the meanings of word.
func (s *Store) Search(word string) ([]string, error) {
	word = normalizeWord(word)
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.words[word]
	if !ok {
		return nil, ErrWordNotFound
	}
	return slices.Clone(ms), nil
}

// Add inserts a new word. Blank meanings are dropped and repeated ones
// collapse; at least one meaning must remain.
func (s *Store) Add(word string, meanings ...string) error {
	word = normalizeWord(word)
	if err := checkWord(word); err != nil {
		return err
	}
	var clean []string
	for _, m := range meanings {
		m = strings.TrimSpace(m)
		if m == "" || slices.Contains(clean, m) {
			continue
		}
		if err := checkMeaning(m); err != nil {
			return err
		}
		clean = append(clean, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[word]; ok {
		return ErrDuplicateWord
	}
	if len(clean) == 0 {
		return ErrEmptyMeanings
	}
	return s.commitLocked(word, clean)
}

// Remove deletes word and all its meanings.
func (s *Store) Remove(word string) error {
	word = normalizeWord(word)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[word]; !ok {
		return ErrWordNotFound
	}
	return s.commitLocked(word, nil)
}

// AddMeaning appends meaning to an existing word.
func (s *Store) AddMeaning(word, meaning string) error {
	word = normalizeWord(word)
	meaning = strings.TrimSpace(meaning)
	if meaning == "" {
		return ErrEmptyMeanings
	}
	if err := checkMeaning(meaning); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.words[word]
	if !ok {
		return ErrWordNotFound
	}
	if slices.Contains(ms, meaning) {
		return ErrMeaningExists
	}
	next := append(slices.Clone(ms), meaning)
	return s.commitLocked(word, next)
}

// UpdateMeaning replaces oldMeaning by newMeaning in place.
func (s *Store) UpdateMeaning(word, oldMeaning, newMeaning string) error {
	word = normalizeWord(word)
	oldMeaning = strings.TrimSpace(oldMeaning)
	newMeaning = strings.TrimSpace(newMeaning)
	if newMeaning == "" {
		return ErrEmptyMeanings
	}
	if err := checkMeaning(newMeaning); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.words[word]
	if !ok {
		return ErrWordNotFound
	}
	i := slices.Index(ms, oldMeaning)
	if i < 0 {
		return ErrMeaningNotFound
	}
	if j := slices.Index(ms, newMeaning); j >= 0 && j != i {
		return ErrMeaningExists
	}
	next := slices.Clone(ms)
	next[i] = newMeaning
	return s.commitLocked(word, next)
}

// commitLocked installs meanings for word (nil removes it) and persists
// the store, restoring the previous entry if the write fails.
func (s *Store) commitLocked(word string, meanings []string) error {
	prev, had := s.words[word]
	if meanings == nil {
		delete(s.words, word)
	} else {
		s.words[word] = meanings
	}
	if err := s.persistLocked(); err != nil {
		if had {
			s.words[word] = prev
		} else {
			delete(s.words, word)
		}
		s.log.Error("persist failed, mutation rolled back", "word", word, "error", err)
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// persistLocked atomically replaces the dictionary file with the current
// contents of the store.
func (s *Store) persistLocked() error {
	var buf bytes.Buffer
	if err := Render(&buf, s.words); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	tmpName = ""
	return syncDir(dir)
}

// syncDir flushes the directory entry written by a rename.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

func checkWord(w string) error {
	if w == "" {
		return fmt.Errorf("%w: empty word", ErrInvalidEntry)
	}
	if strings.ContainsAny(w, "\r\n") {
		return fmt.Errorf("%w: word contains a line break", ErrInvalidEntry)
	}
	return nil
}

func checkMeaning(m string) error {
	if strings.ContainsAny(m, "\r\n") {
		return fmt.Errorf("%w: meaning contains a line break", ErrInvalidEntry)
	}
	return nil
}
