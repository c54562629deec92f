package cinesort

import (
	"context"
	"errors"
)

// Editing is the operator's editor state: either a new puzzle for an empty
// date or changes to an existing one.
type Editing interface {
	// Draft returns the fields being edited.
	Draft() Draft

	isEditing()
}

// Create edits a puzzle that does not exist yet.
type Create struct {
	Fields Draft
}

// Update edits the puzzle with the given id.
type Update struct {
	PuzzleID string
	Fields   Draft
}

func (c Create) Draft() Draft { return c.Fields }
func (u Update) Draft() Draft { return u.Fields }

func (Create) isEditing() {}
func (Update) isEditing() {}

// Begin opens the editor on date. If the date already has a puzzle the
// editor switches to updating it, pre-filled; otherwise it starts a create.
func (r *Registry) Begin(ctx context.Context, date string) (Editing, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	p, err := r.store.FindByDate(ctx, date)
	switch {
	case err == nil:
		return Update{PuzzleID: p.ID, Fields: p.Draft()}, nil
	case errors.Is(err, ErrNotFound):
		return Create{Fields: Draft{Date: date}}, nil
	default:
		return nil, err
	}
}

// Save commits the editor state. opts only applies to Create.
func (r *Registry) Save(ctx context.Context, e Editing, opts CreateOptions) (Puzzle, error) {
	switch e := e.(type) {
	case Create:
		return r.Create(ctx, e.Fields, opts)
	case Update:
		d, err := e.Fields.Validate()
		if err != nil {
			return Puzzle{}, err
		}
		return r.Update(ctx, e.PuzzleID, PuzzleFields{
			Date:   &d.Date,
			Title:  &d.Title,
			Scenes: d.Scenes,
		})
	default:
		return Puzzle{}, &ValidationError{Field: "editing", Message: "unknown editor state"}
	}
}
