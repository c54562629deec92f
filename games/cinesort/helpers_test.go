package cinesort

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"
)

var testDay = time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC)

func testClock() time.Time {
	return testDay
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func testScenes(ids ...string) []Scene {
	if len(ids) == 0 {
		ids = []string{"A", "B", "C", "D", "E"}
	}
	scenes := make([]Scene, len(ids))
	for i, id := range ids {
		scenes[i] = Scene{ID: id, URL: "/images/" + id + ".jpg", Caption: "Scene " + id}
	}
	return scenes
}

func testPuzzle(t *testing.T, date, title string) Puzzle {
	t.Helper()

	return Puzzle{
		ID:        NewID(),
		Date:      date,
		Title:     title,
		Scenes:    testScenes(),
		CreatedAt: testDay,
	}
}

// memStore is a PuzzleStore held in memory.
type memStore struct {
	mu      sync.Mutex
	puzzles map[string]Puzzle
	err     error

	// insertErr fails every Insert; removeErr fails Remove for the listed ids.
	insertErr error
	removeErr map[string]error
}

func newMemStore(puzzles ...Puzzle) *memStore {
	s := &memStore{puzzles: make(map[string]Puzzle)}
	for _, p := range puzzles {
		s.puzzles[p.ID] = p
	}
	return s
}

func (s *memStore) FindByID(_ context.Context, id string) (Puzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return Puzzle{}, s.err
	}
	p, ok := s.puzzles[id]
	if !ok {
		return Puzzle{}, ErrNotFound
	}
	return p, nil
}

func (s *memStore) FindByDate(_ context.Context, date string) (Puzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return Puzzle{}, s.err
	}
	var newest Puzzle
	found := false
	for _, p := range s.puzzles {
		if p.Date == date && (!found || p.CreatedAt.After(newest.CreatedAt)) {
			newest = p
			found = true
		}
	}
	if !found {
		return Puzzle{}, ErrNotFound
	}
	return newest, nil
}

func (s *memStore) FindRange(_ context.Context, from string) ([]Puzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := []Puzzle{}
	for _, p := range s.puzzles {
		if p.Date >= from {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *memStore) FindLatestByCreation(_ context.Context) (Puzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return Puzzle{}, s.err
	}
	var latest Puzzle
	found := false
	for _, p := range s.puzzles {
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return Puzzle{}, ErrNotFound
	}
	return latest, nil
}

func (s *memStore) Insert(_ context.Context, p Puzzle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.puzzles[p.ID] = p
	return p.ID, nil
}

func (s *memStore) Patch(_ context.Context, id string, fields PuzzleFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	p, ok := s.puzzles[id]
	if !ok {
		return ErrNotFound
	}
	s.puzzles[id] = fields.Apply(p)
	return nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if err := s.removeErr[id]; err != nil {
		return err
	}
	if _, ok := s.puzzles[id]; !ok {
		return ErrNotFound
	}
	delete(s.puzzles, id)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.puzzles)
}
