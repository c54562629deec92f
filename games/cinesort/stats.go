package cinesort

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// StatsKey holds the aggregate record in device storage.
	StatsKey = "cinesort_stats"

	// HistoryKey holds the recent results log in device storage.
	HistoryKey = "cinesort_history"

	// HistoryLimit caps the results log.
	HistoryLimit = 10
)

// KV is device-scoped string storage.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Aggregate is the running total for one device.
type Aggregate struct {
	Played    int `json:"played"`
	Won       int `json:"won"`
	Streak    int `json:"streak"`
	MaxStreak int `json:"maxStreak"`
}

// HistoryEntry is one finished session, as kept in the results log.
type HistoryEntry struct {
	Date     string    `json:"date"`
	PlayedAt time.Time `json:"playedAt"`
	Won      bool      `json:"won"`
	Attempts int       `json:"attempts"`
	Title    string    `json:"title"`
}

// Summary is what the stats view displays.
type Summary struct {
	Aggregate
	WonPercentage int            `json:"wonPercentage"`
	History       []HistoryEntry `json:"history"`
}

// Stats aggregates session outcomes for one device.
type Stats struct {
	mu  sync.Mutex
	kv  KV
	now func() time.Time
}

// NewStats returns an aggregator over kv. A nil now uses time.Now.
func NewStats(kv KV, now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{kv: kv, now: now}
}

// RecordOutcome adds one finished session, dated today.
func (s *Stats) RecordOutcome(ctx context.Context, won bool, attempts int, title string) error {
	now := s.now()
	return s.record(ctx, HistoryEntry{
		Date:     DateOf(now),
		PlayedAt: now.UTC(),
		Won:      won,
		Attempts: attempts,
		Title:    title,
	})
}

// Report records a terminal session result.
func (s *Stats) Report(ctx context.Context, r Result) error {
	if !r.Outcome.Terminal() {
		return nil
	}

	now := s.now()
	date := r.Date
	if date == "" {
		date = DateOf(now)
	}

	return s.record(ctx, HistoryEntry{
		Date:     date,
		PlayedAt: now.UTC(),
		Won:      r.Outcome == Won,
		Attempts: r.AttemptsUsed,
		Title:    r.Title,
	})
}

// record holds s.mu across the read and rewrite, so concurrent outcomes are
// all counted.
func (s *Stats) record(ctx context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, history, err := s.load(ctx)
	if err != nil {
		return err
	}

	agg.Played++
	if e.Won {
		agg.Won++
		agg.Streak++
	} else {
		agg.Streak = 0
	}
	agg.MaxStreak = max(agg.MaxStreak, agg.Streak)

	history = append([]HistoryEntry{e}, history...)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}

	return s.save(ctx, agg, history)
}

// Summarize returns the device's totals and recent history.
func (s *Stats) Summarize(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, history, err := s.load(ctx)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Aggregate:     agg,
		WonPercentage: wonPercentage(agg),
		History:       history,
	}, nil
}

func wonPercentage(a Aggregate) int {
	if a.Played <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(a.Won) / float64(a.Played)))
}

func (s *Stats) load(ctx context.Context) (Aggregate, []HistoryEntry, error) {
	var agg Aggregate
	history := []HistoryEntry{}

	raw, ok, err := s.kv.Get(ctx, StatsKey)
	if err != nil {
		return agg, nil, fmt.Errorf("failed to read stats: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &agg); err != nil {
			return agg, nil, fmt.Errorf("failed to decode stats: %w", err)
		}
	}

	raw, ok, err = s.kv.Get(ctx, HistoryKey)
	if err != nil {
		return agg, nil, fmt.Errorf("failed to read history: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			return agg, nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}

	return agg, history, nil
}

func (s *Stats) save(ctx context.Context, agg Aggregate, history []HistoryEntry) error {
	a, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	h, err := json.Marshal(history)
	if err != nil {
		return err
	}

	if err := s.kv.Set(ctx, StatsKey, string(a)); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	if err := s.kv.Set(ctx, HistoryKey, string(h)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// MemoryKV is an in-process KV. The zero value is ready to use.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.m[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.m == nil {
		m.m = make(map[string]string)
	}
	m.m[key] = value
	return nil
}
