package cinesort

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	solvedEmojis = "🎬 🎯 🎥"
	failedEmojis = "🎬 ❌ 🎥"
)

// ShareText formats a finished session as a spoiler-free message.
func ShareText(r Result, maxAttempts int, day time.Time, siteURL string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CineSort %s - ", day.Format("Jan 2"))
	if r.Outcome == Won {
		fmt.Fprintf(&b, "Solved in %d/%d attempts\n\n%s", r.AttemptsUsed, maxAttempts, solvedEmojis)
	} else {
		fmt.Fprintf(&b, "Failed\n\n%s", failedEmojis)
	}

	if site := displayHost(siteURL); site != "" {
		fmt.Fprintf(&b, "\n\nPlay at %s", site)
	}

	return b.String()
}

// ShareLinks holds prefilled links to post a result on social sites.
type ShareLinks struct {
	Twitter  string `json:"twitter"`
	Facebook string `json:"facebook"`
	WhatsApp string `json:"whatsapp"`
}

// NewShareLinks builds the share links for text.
func NewShareLinks(text, siteURL string) ShareLinks {
	q := url.QueryEscape(text)

	return ShareLinks{
		Twitter:  "https://twitter.com/intent/tweet?text=" + q,
		Facebook: "https://www.facebook.com/sharer/sharer.php?u=" + url.QueryEscape(siteURL) + "&quote=" + q,
		WhatsApp: "https://wa.me/?text=" + q,
	}
}

// displayHost strips the scheme and trailing slash from a site URL.
func displayHost(siteURL string) string {
	siteURL = strings.TrimSpace(siteURL)
	if u, err := url.Parse(siteURL); err == nil && u.Host != "" {
		return strings.TrimSuffix(u.Host+u.Path, "/")
	}
	return strings.TrimSuffix(siteURL, "/")
}
