package cinesort

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PuzzleStore is the document store behind the registry. It keeps no
// uniqueness constraint on dates; the registry enforces that.
type PuzzleStore interface {
	FindByID(ctx context.Context, id string) (Puzzle, error)
	FindByDate(ctx context.Context, date string) (Puzzle, error)
	FindRange(ctx context.Context, fromDate string) ([]Puzzle, error)
	FindLatestByCreation(ctx context.Context) (Puzzle, error)

	Insert(ctx context.Context, p Puzzle) (string, error)
	Patch(ctx context.Context, id string, fields PuzzleFields) error
	Remove(ctx context.Context, id string) error
}

// Source tells where today's puzzle came from.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceLatest    Source = "latest"
	SourceDemo      Source = "demo"
)

// CreateOptions controls conflict resolution on create.
type CreateOptions struct {
	// Replace deletes an existing puzzle for the same date instead of failing.
	Replace   bool
	CreatedBy string
}

// Registry maps calendar dates to at most one puzzle each.
type Registry struct {
	store PuzzleStore
	now   func() time.Time
	newID func() string
	demo  *Puzzle
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock sets the clock that defines "today".
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDs sets the puzzle id generator.
func WithIDs(newID func() string) RegistryOption {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithDemo sets the puzzle served when nothing else is available.
func WithDemo(p Puzzle) RegistryOption {
	return func(r *Registry) {
		r.demo = &p
	}
}

// NewRegistry wraps store.
func NewRegistry(store PuzzleStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store: store,
		now:   time.Now,
		newID: NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TodayDate returns the calendar date the registry considers today.
func (r *Registry) TodayDate() string {
	return DateOf(r.now())
}

// GetByDate returns the puzzle scheduled for date, or ErrNotFound.
func (r *Registry) GetByDate(ctx context.Context, date string) (Puzzle, error) {
	date, err := ParseDate(date)
	if err != nil {
		return Puzzle{}, err
	}
	return r.store.FindByDate(ctx, date)
}

// Get returns the puzzle with the given id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Puzzle, error) {
	return r.store.FindByID(ctx, id)
}

// ListUpcoming returns puzzles dated on or after from, ascending by date.
// An empty from means today.
func (r *Registry) ListUpcoming(ctx context.Context, from string) ([]Puzzle, error) {
	if from == "" {
		from = r.TodayDate()
	}
	from, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	return r.store.FindRange(ctx, from)
}

// Create schedules a new puzzle. If the date is taken it fails with a
// *ConflictError, unless opts.Replace is set, in which case the existing
// puzzle is removed once the new one is saved. A failed replace leaves the
// existing puzzle in place. The existence check runs immediately before the
// write; the store gives no stronger guarantee.
func (r *Registry) Create(ctx context.Context, d Draft, opts CreateOptions) (Puzzle, error) {
	d, err := d.Validate()
	if err != nil {
		return Puzzle{}, err
	}

	existing, err := r.store.FindByDate(ctx, d.Date)
	replacing := err == nil
	switch {
	case replacing && !opts.Replace:
		return Puzzle{}, &ConflictError{Date: d.Date, Existing: existing}
	case err != nil && !errors.Is(err, ErrNotFound):
		return Puzzle{}, fmt.Errorf("failed to check date %s: %w", d.Date, err)
	}

	p := Puzzle{
		ID:        r.newID(),
		Date:      d.Date,
		Title:     d.Title,
		Scenes:    d.Scenes,
		CreatedAt: r.now().UTC(),
		CreatedBy: opts.CreatedBy,
	}

	id, err := r.store.Insert(ctx, p)
	if err != nil {
		return Puzzle{}, fmt.Errorf("failed to save puzzle for %s: %w", d.Date, err)
	}
	p.ID = id

	if replacing {
		if err := r.store.Remove(ctx, existing.ID); err != nil && !errors.Is(err, ErrNotFound) {
			if rerr := r.store.Remove(ctx, p.ID); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return Puzzle{}, fmt.Errorf("failed to replace puzzle for %s: %w", d.Date, err)
		}
	}

	return p, nil
}

// Update applies a partial update to an existing puzzle.
//
// Moving a puzzle to a date that already has one is not checked here.
func (r *Registry) Update(ctx context.Context, id string, fields PuzzleFields) (Puzzle, error) {
	fields, err := fields.Validate()
	if err != nil {
		return Puzzle{}, err
	}

	current, err := r.store.FindByID(ctx, id)
	if err != nil {
		return Puzzle{}, err
	}
	if fields.Empty() {
		return current, nil
	}

	if err := r.store.Patch(ctx, id, fields); err != nil {
		return Puzzle{}, fmt.Errorf("failed to update puzzle %s: %w", id, err)
	}

	return fields.Apply(current), nil
}

// Delete removes a puzzle. Sessions already playing it are not affected.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Remove(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete puzzle %s: %w", id, err)
	}
	return nil
}

// Today resolves the puzzle to play today: the one scheduled for
// today, else the most recently created one, else the demo puzzle. A store
// failure also falls back to the demo.
func (r *Registry) Today(ctx context.Context) (Puzzle, Source, error) {
	p, err := r.store.FindByDate(ctx, r.TodayDate())
	if err == nil && p.Published() {
		return p, SourceScheduled, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return r.fallback(fmt.Errorf("failed to load today's puzzle: %w", err))
	}

	p, err = r.store.FindLatestByCreation(ctx)
	if err == nil && p.Published() {
		return p, SourceLatest, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return r.fallback(fmt.Errorf("failed to load latest puzzle: %w", err))
	}

	return r.fallback(ErrNotFound)
}

func (r *Registry) fallback(cause error) (Puzzle, Source, error) {
	if r.demo == nil {
		return Puzzle{}, "", cause
	}
	return *r.demo, SourceDemo, nil
}
