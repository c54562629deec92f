package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/Seednode/cinesort/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	todayStyle  = cellStyle.Foreground(lipgloss.Color("42"))
)

// openRegistry opens the database named by --db for a one-shot command.
func openRegistry(cfg *Config) (*cinesort.Registry, func() error, error) {
	if cfg.db == "" {
		return nil, nil, errors.New("--db must not be empty")
	}

	store, err := storage.Open(cfg.db)
	if err != nil {
		return nil, nil, err
	}

	return cinesort.NewRegistry(store), store.Close, nil
}

// renderSchedule draws puzzles as a table, highlighting today's row.
func renderSchedule(puzzles []cinesort.Puzzle, today string) string {
	rows := make([][]string, 0, len(puzzles))
	for _, p := range puzzles {
		rows = append(rows, []string{
			p.Date,
			p.Title,
			strconv.Itoa(len(p.Scenes)),
			p.CreatedBy,
			p.ID,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderHeader(true).
		Headers("Date", "Title", "Scenes", "Created By", "ID").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(rows) && rows[row][0] == today:
				return todayStyle
			default:
				return cellStyle
			}
		})

	return t.Render()
}

func newScheduleCmd(cfg *Config) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "List scheduled puzzles from a date onward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeStore, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			puzzles, err := registry.ListUpcoming(cmd.Context(), from)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(puzzles) == 0 {
				_, err = fmt.Fprintln(out, "No puzzles scheduled.")
				return err
			}

			_, err = fmt.Fprintln(out, renderSchedule(puzzles, registry.TodayDate()))
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date to list, YYYY-MM-DD (default today)")

	return cmd
}

// importFile is a batch of drafts. Either a bare list or a "puzzles" key
// is accepted.
type importFile struct {
	Puzzles []cinesort.Draft `yaml:"puzzles"`
}

func parseImport(r io.Reader) ([]cinesort.Draft, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var list []cinesort.Draft
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse import: %w", err)
	}

	return file.Puzzles, nil
}

type importSummary struct {
	created  int
	replaced int
	skipped  int
	failed   int
}

func importDrafts(cmd *cobra.Command, registry *cinesort.Registry, drafts []cinesort.Draft, replace bool) (importSummary, error) {
	var sum importSummary

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	for i, d := range drafts {
		_, lookupErr := registry.GetByDate(ctx, d.Date)

		p, err := registry.Create(ctx, d, cinesort.CreateOptions{Replace: replace, CreatedBy: "import"})

		var line string
		switch {
		case cinesort.IsConflict(err):
			sum.skipped++
			line = fmt.Sprintf("skip  %s: already scheduled (use --replace)\n", d.Date)
		case err != nil:
			sum.failed++
			line = fmt.Sprintf("fail  entry %d (%s): %v\n", i+1, d.Date, err)
		case lookupErr == nil:
			sum.replaced++
			line = fmt.Sprintf("swap  %s: %s\n", p.Date, p.Title)
		default:
			sum.created++
			line = fmt.Sprintf("add   %s: %s\n", p.Date, p.Title)
		}

		if _, err := io.WriteString(out, line); err != nil {
			return sum, fmt.Errorf("write import report: %w", err)
		}
	}

	return sum, nil
}

func newImportCmd(cfg *Config) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Schedule puzzles from a YAML file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			drafts, err := parseImport(in)
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				return errors.New("import file contains no puzzles")
			}

			registry, closeStore, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			sum, err := importDrafts(cmd, registry, drafts, replace)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d added, %d replaced, %d skipped, %d failed\n",
				sum.created, sum.replaced, sum.skipped, sum.failed)
			if err != nil {
				return err
			}

			if sum.failed > 0 {
				return fmt.Errorf("%d of %d puzzles failed to import", sum.failed, len(drafts))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "replace puzzles already scheduled on the same date")

	return cmd
}
