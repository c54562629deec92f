package cinesort

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// SceneCount is the number of scenes in a published puzzle.
const SceneCount = 5

// DateLayout is the calendar date format used as the scheduling key.
const DateLayout = "2006-01-02"

// Scene is one captioned image of a puzzle.
type Scene struct {
	ID          string `json:"id" toml:"id" yaml:"id"`
	URL         string `json:"url" toml:"url" yaml:"url"`
	StoragePath string `json:"storage_path,omitempty" toml:"storage_path" yaml:"storage_path,omitempty"`
	Caption     string `json:"caption" toml:"caption" yaml:"caption"`
}

// Puzzle is one day's set of scenes, stored in canonical (chronological) order.
type Puzzle struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Scenes    []Scene   `json:"scenes"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// Draft holds the operator-editable fields of a puzzle.
type Draft struct {
	Date   string  `json:"date" yaml:"date"`
	Title  string  `json:"title" yaml:"title"`
	Scenes []Scene `json:"scenes" yaml:"scenes"`
}

// PuzzleFields is a partial update. Nil fields are left unchanged.
type PuzzleFields struct {
	Date   *string `json:"date,omitempty"`
	Title  *string `json:"title,omitempty"`
	Scenes []Scene `json:"scenes,omitempty"`
}

// Empty reports whether the update changes nothing.
func (f PuzzleFields) Empty() bool {
	return f.Date == nil && f.Title == nil && f.Scenes == nil
}

// NewID returns a time-ordered puzzle id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// DateOf formats t as a calendar date in t's own location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD calendar date and returns it normalized.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: "date", Message: "date is required"}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Message: "date must be formatted as YYYY-MM-DD"}
	}
	return DateOf(t), nil
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func validateTitle(title string) (string, error) {
	title = normalizeText(title)
	if title == "" {
		return "", &ValidationError{Field: "title", Message: "title is required"}
	}
	return title, nil
}

// validateScenes checks a published scene set and returns a normalized copy.
func validateScenes(scenes []Scene) ([]Scene, error) {
	if len(scenes) != SceneCount {
		return nil, &ValidationError{
			Field:   "scenes",
			Message: "exactly " + strconv.Itoa(SceneCount) + " scenes are required, got " + strconv.Itoa(len(scenes)),
		}
	}

	out := make([]Scene, len(scenes))
	seen := make(map[string]bool, len(scenes))
	for i, s := range scenes {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = strconv.Itoa(i)
		}
		if seen[s.ID] {
			return nil, &ValidationError{Field: "scenes", Message: "duplicate scene id " + strconv.Quote(s.ID)}
		}
		seen[s.ID] = true

		s.URL = strings.TrimSpace(s.URL)
		if s.URL == "" {
			return nil, &ValidationError{Field: "scenes", Message: "scene " + strconv.Itoa(i+1) + " has no image"}
		}
		s.Caption = normalizeText(s.Caption)
		if s.Caption == "" {
			s.Caption = "Scene " + strconv.Itoa(i+1)
		}
		out[i] = s
	}
	return out, nil
}

// Validate checks the draft and returns a normalized copy.
func (d Draft) Validate() (Draft, error) {
	date, err := ParseDate(d.Date)
	if err != nil {
		return Draft{}, err
	}
	title, err := validateTitle(d.Title)
	if err != nil {
		return Draft{}, err
	}
	scenes, err := validateScenes(d.Scenes)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Date: date, Title: title, Scenes: scenes}, nil
}

// Validate checks the supplied fields and returns a normalized copy.
func (f PuzzleFields) Validate() (PuzzleFields, error) {
	var out PuzzleFields
	if f.Date != nil {
		date, err := ParseDate(*f.Date)
		if err != nil {
			return PuzzleFields{}, err
		}
		out.Date = &date
	}
	if f.Title != nil {
		title, err := validateTitle(*f.Title)
		if err != nil {
			return PuzzleFields{}, err
		}
		out.Title = &title
	}
	if f.Scenes != nil {
		scenes, err := validateScenes(f.Scenes)
		if err != nil {
			return PuzzleFields{}, err
		}
		out.Scenes = scenes
	}
	return out, nil
}

// Apply returns a copy of p with the fields applied.
func (f PuzzleFields) Apply(p Puzzle) Puzzle {
	if f.Date != nil {
		p.Date = *f.Date
	}
	if f.Title != nil {
		p.Title = *f.Title
	}
	if f.Scenes != nil {
		p.Scenes = cloneScenes(f.Scenes)
	}
	return p
}

// Published reports whether p can be handed to a player.
func (p Puzzle) Published() bool {
	_, err := validateScenes(p.Scenes)
	return err == nil
}

// Draft returns the editable fields of p.
func (p Puzzle) Draft() Draft {
	return Draft{Date: p.Date, Title: p.Title, Scenes: cloneScenes(p.Scenes)}
}

func cloneScenes(scenes []Scene) []Scene {
	if scenes == nil {
		return nil
	}
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	return out
}
