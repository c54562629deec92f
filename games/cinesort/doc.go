// CineSort
//
// Every day a puzzle of five captioned movie scenes is published. Players see
// the scenes shuffled and drag them back into chronological order, with a
// fixed number of attempts per day. An operator schedules puzzles by calendar
// date, at most one per date.
//
// Features:
// - Unbiased Fisher-Yates shuffle and exact order comparison by scene id
// - Per-device session state machine: Pending -> Won | Lost
// - Reorder, move and reshuffle never consume an attempt; submit does
// - Terminal outcome is reported to the stats aggregator exactly once
// - Scheduling registry keyed by date, with reject/replace/edit-redirect on create
// - Today's puzzle falls back to the latest created puzzle, then a demo puzzle
// - Per-device stats: played, win rate, streak, max streak, last 10 results
// - All-or-nothing upload of exactly five scene images
// - Wordle-style share text for finished sessions
package cinesort
