package cinesort

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	// MaxAttempts is the attempt budget of the sorting game.
	MaxAttempts = 5

	// SingleStepMaxAttempts is the budget of the one-scene-at-a-time variant.
	SingleStepMaxAttempts = 6
)

// Outcome is the state of a session.
type Outcome int

const (
	Pending Outcome = iota
	Won
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Won:
		return "won"
	case Lost:
		return "lost"
	default:
		return "pending"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Terminal reports whether no further attempts are possible.
func (o Outcome) Terminal() bool {
	return o == Won || o == Lost
}

// Result is what a finished session reports to the stats aggregator.
type Result struct {
	Outcome      Outcome
	AttemptsUsed int
	Title        string
	Date         string
}

// Reporter receives the terminal result of a session.
type Reporter interface {
	Report(ctx context.Context, r Result) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, r Result) error

func (f ReporterFunc) Report(ctx context.Context, r Result) error {
	return f(ctx, r)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxAttempts overrides the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRand sets the random source used to shuffle.
func WithRand(rng *rand.Rand) SessionOption {
	return func(s *Session) {
		s.rng = rng
	}
}

// WithReporter sets where the terminal result is sent.
func WithReporter(r Reporter) SessionOption {
	return func(s *Session) {
		s.reporter = r
	}
}

// WithClock sets the time source used for elapsed time.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session is one play-through of one puzzle. It is not safe for concurrent
// use; callers drive it from a single goroutine.
type Session struct {
	puzzle    Puzzle
	canonical []string
	byID      map[string]Scene

	order       []string
	attempts    int
	maxAttempts int
	outcome     Outcome
	moves       int
	reported    bool

	startedAt time.Time
	endedAt   time.Time

	rng      *rand.Rand
	reporter Reporter
	now      func() time.Time
}

// NewSession starts a session on a published puzzle with a shuffled order.
func NewSession(p Puzzle, opts ...SessionOption) (*Session, error) {
	if !p.Published() {
		return nil, &ValidationError{Field: "scenes", Message: fmt.Sprintf("puzzle %q is not published", p.Title)}
	}

	s := &Session{
		puzzle:      p,
		canonical:   SceneIDs(p.Scenes),
		byID:        make(map[string]Scene, len(p.Scenes)),
		maxAttempts: MaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, sc := range p.Scenes {
		s.byID[sc.ID] = sc
	}

	s.order = SceneIDs(Shuffle(s.rng, p.Scenes))
	s.startedAt = s.now()

	return s, nil
}

// Puzzle returns the puzzle being played.
func (s *Session) Puzzle() Puzzle {
	return s.puzzle
}

// Outcome returns the current state.
func (s *Session) Outcome() Outcome {
	return s.outcome
}

// AttemptsUsed returns how many submissions have been made.
func (s *Session) AttemptsUsed() int {
	return s.attempts
}

// MaxAttempts returns the attempt budget.
func (s *Session) MaxAttempts() int {
	return s.maxAttempts
}

// Order returns a copy of the presentation order.
func (s *Session) Order() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Reorder replaces the presentation order. It does not consume an attempt.
func (s *Session) Reorder(order []string) error {
	if s.outcome.Terminal() {
		return ErrSessionOver
	}
	if !isPermutation(order, s.canonical) {
		return &ValidationError{Field: "order", Message: "order must contain each scene of the puzzle exactly once"}
	}

	s.order = append(s.order[:0], order...)
	s.moves++

	return nil
}

// Move drags the scene at index from to index to, shifting the ones between.
func (s *Session) Move(from, to int) error {
	if s.outcome.Terminal() {
		return ErrSessionOver
	}
	if from < 0 || from >= len(s.order) || to < 0 || to >= len(s.order) {
		return &ValidationError{Field: "move", Message: fmt.Sprintf("positions must be between 0 and %d", len(s.order)-1)}
	}
	if from == to {
		return nil
	}

	id := s.order[from]
	if from < to {
		copy(s.order[from:to], s.order[from+1:to+1])
	} else {
		copy(s.order[to+1:from+1], s.order[to:from])
	}
	s.order[to] = id
	s.moves++

	return nil
}

// Submit checks the presentation order and consumes one attempt. Submitting
// after the session ended has no effect and returns ErrSessionOver.
//
// The returned error may also come from the reporter; the transition has
// already happened in that case.
func (s *Session) Submit(ctx context.Context) (View, error) {
	if s.outcome.Terminal() {
		return s.View(), ErrSessionOver
	}

	s.attempts++

	switch {
	case IsCorrectOrder(s.order, s.canonical):
		s.finish(Won)
	case s.attempts >= s.maxAttempts:
		s.finish(Lost)
	default:
		return s.View(), nil
	}

	return s.View(), s.report(ctx)
}

// Reset reshuffles the presentation order. It is a rearrangement aid: the
// attempt count and the outcome are left as they are.
func (s *Session) Reset() {
	s.order = SceneIDs(Shuffle(s.rng, s.puzzle.Scenes))
	s.moves++
}

// Result returns the session's result so far.
func (s *Session) Result() Result {
	return Result{
		Outcome:      s.outcome,
		AttemptsUsed: s.attempts,
		Title:        s.puzzle.Title,
		Date:         s.puzzle.Date,
	}
}

func (s *Session) finish(o Outcome) {
	s.outcome = o
	s.endedAt = s.now()
}

// report sends the terminal result at most once per session.
func (s *Session) report(ctx context.Context) error {
	if s.reported || !s.outcome.Terminal() {
		return nil
	}
	s.reported = true

	if s.reporter == nil {
		return nil
	}
	if err := s.reporter.Report(ctx, s.Result()); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// View is a render-ready snapshot of a session.
type View struct {
	PuzzleID     string        `json:"puzzle_id"`
	Date         string        `json:"date"`
	Title        string        `json:"title"`
	Order        []Scene       `json:"order"`
	AttemptsUsed int           `json:"attempts_used"`
	AttemptsLeft int           `json:"attempts_left"`
	MaxAttempts  int           `json:"max_attempts"`
	Outcome      Outcome       `json:"outcome"`
	Moves        int           `json:"moves"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Solution     []Scene       `json:"solution,omitempty"`
}

// View returns a snapshot. The solution is only revealed once the session ended.
func (s *Session) View() View {
	order := make([]Scene, len(s.order))
	for i, id := range s.order {
		order[i] = s.byID[id]
	}

	end := s.now()
	if s.outcome.Terminal() {
		end = s.endedAt
	}

	v := View{
		PuzzleID:     s.puzzle.ID,
		Date:         s.puzzle.Date,
		Title:        s.puzzle.Title,
		Order:        order,
		AttemptsUsed: s.attempts,
		AttemptsLeft: s.maxAttempts - s.attempts,
		MaxAttempts:  s.maxAttempts,
		Outcome:      s.outcome,
		Moves:        s.moves,
		Elapsed:      end.Sub(s.startedAt),
	}
	if s.outcome.Terminal() {
		v.Solution = cloneScenes(s.puzzle.Scenes)
	}
	return v
}
