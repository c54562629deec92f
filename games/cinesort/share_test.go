package cinesort

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func TestShareText(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		result Result
		site   string
	}{
		{"solved", Result{Outcome: Won, AttemptsUsed: 3}, "https://cinesort.wtf/"},
		{"solved_first_try", Result{Outcome: Won, AttemptsUsed: 1}, "cinesort.wtf"},
		{"failed", Result{Outcome: Lost, AttemptsUsed: 5}, "https://cinesort.wtf"},
		{"no_site", Result{Outcome: Won, AttemptsUsed: 5}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := ShareText(tt.result, MaxAttempts, testDay, tt.site)
			g.Assert(t, "share_"+tt.name, []byte(text))
		})
	}
}

func TestShareTextNeverClaimsLossAsSolved(t *testing.T) {
	text := ShareText(Result{Outcome: Lost, AttemptsUsed: 5}, MaxAttempts, testDay, "")

	assert.NotContains(t, text, "Solved")
	assert.Contains(t, text, failedEmojis)
}

func TestNewShareLinks(t *testing.T) {
	links := NewShareLinks("CineSort Oct 19 - Failed", "https://cinesort.wtf")

	assert.True(t, strings.HasPrefix(links.Twitter, "https://twitter.com/intent/tweet?text=CineSort+Oct+19"))
	assert.Contains(t, links.Facebook, "u=https%3A%2F%2Fcinesort.wtf")
	assert.Contains(t, links.WhatsApp, "text=CineSort")
}
