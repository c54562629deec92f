package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/Seednode/cinesort/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importYAML = `
puzzles:
  - date: 2099-03-01
    title: Vertigo
    scenes:
      - url: /images/v1.jpg
        caption: The rooftop
      - url: /images/v2.jpg
      - url: /images/v3.jpg
      - url: /images/v4.jpg
      - url: /images/v5.jpg
  - date: 2099-03-02
    title: Psycho
    scenes:
      - {url: /images/p1.jpg}
      - {url: /images/p2.jpg}
      - {url: /images/p3.jpg}
      - {url: /images/p4.jpg}
      - {url: /images/p5.jpg}
`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newCmd(&Config{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseImportForms(t *testing.T) {
	drafts, err := parseImport(strings.NewReader(importYAML))
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "2099-03-01", drafts[0].Date)
	assert.Equal(t, "The rooftop", drafts[0].Scenes[0].Caption)

	list := `
- date: "2099-04-01"
  title: Rear Window
  scenes: []
`
	drafts, err = parseImport(strings.NewReader(list))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Rear Window", drafts[0].Title)

	_, err = parseImport(strings.NewReader("puzzles: [unclosed"))
	assert.Error(t, err)
}

func TestImportAndSchedule(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cinesort.db")
	file := filepath.Join(t.TempDir(), "puzzles.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importYAML), 0o644))

	out, err := runCLI(t, "", "import", file, "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "add   2099-03-01: Vertigo")
	assert.Contains(t, out, "2 added, 0 replaced, 0 skipped, 0 failed")

	out, err = runCLI(t, "", "import", file, "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 added, 0 replaced, 2 skipped, 0 failed")

	out, err = runCLI(t, importYAML, "import", "-", "--db", db, "--replace")
	require.NoError(t, err, out)
	assert.Contains(t, out, "swap  2099-03-02: Psycho")
	assert.Contains(t, out, "0 added, 2 replaced, 0 skipped, 0 failed")

	out, err = runCLI(t, "", "schedule", "--db", db, "--from", "2099-03-02")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Psycho")
	assert.NotContains(t, out, "Vertigo")
	assert.Contains(t, out, "Created By")
	assert.Contains(t, out, "import")

	store, err := storage.Open(db)
	require.NoError(t, err)
	defer store.Close()

	p, err := cinesort.NewRegistry(store).GetByDate(context.Background(), "2099-03-01")
	require.NoError(t, err)
	assert.Equal(t, "Vertigo", p.Title)
	assert.Equal(t, "import", p.CreatedBy)
	assert.Equal(t, "Scene 2", p.Scenes[1].Caption)
}

func TestImportReportsInvalidEntries(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cinesort.db")

	bad := `
- date: 2099-05-01
  title: Too Short
  scenes:
    - url: /images/a.jpg
`
	out, err := runCLI(t, bad, "import", "-", "--db", db)
	require.Error(t, err)
	assert.Contains(t, out, "fail  entry 1 (2099-05-01)")
	assert.Contains(t, out, "0 added, 0 replaced, 0 skipped, 1 failed")
}

func TestImportRejectsEmptyFile(t *testing.T) {
	_, err := runCLI(t, "puzzles: []", "import", "-", "--db", filepath.Join(t.TempDir(), "cinesort.db"))

	assert.ErrorContains(t, err, "no puzzles")
}

func TestScheduleEmpty(t *testing.T) {
	out, err := runCLI(t, "", "schedule", "--db", filepath.Join(t.TempDir(), "cinesort.db"))

	require.NoError(t, err)
	assert.Equal(t, "No puzzles scheduled.\n", out)
}

func TestRenderSchedule(t *testing.T) {
	out := renderSchedule([]cinesort.Puzzle{
		{ID: "p1", Date: "2099-01-01", Title: "Alien", Scenes: make([]cinesort.Scene, cinesort.SceneCount), CreatedBy: "operator"},
		{ID: "p2", Date: "2099-01-02", Title: "Aliens", Scenes: make([]cinesort.Scene, cinesort.SceneCount)},
	}, "2099-01-01")

	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 4)
	assert.Contains(t, out, "Date")
	assert.Contains(t, out, "Alien")
	assert.Contains(t, out, "operator")
	assert.Less(t, strings.Index(out, "2099-01-01"), strings.Index(out, "2099-01-02"))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestImportFailsWhenReportCannotBeWritten(t *testing.T) {
	cmd := newCmd(&Config{})
	cmd.SetOut(brokenWriter{})
	cmd.SetErr(brokenWriter{})
	cmd.SetIn(strings.NewReader(importYAML))
	cmd.SetArgs([]string{"import", "-", "--db", filepath.Join(t.TempDir(), "cinesort.db")})

	err := cmd.ExecuteContext(context.Background())

	assert.ErrorContains(t, err, "broken pipe")
}
