// Package presenter renders solution sets as a board-by-variable grid for
// review before a build run.
package presenter

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// Labeler supplies display labels and default domains for variables
type Labeler interface {
	ShortName(name string) string
	ShortValue(name string, value model.Value) string
	Domain(name string) []model.Value
}

// Options controls how the grid is rendered
type Options struct {
	// Short collapses a cell to ALL when a board covers the variable's full default domain
	Short bool
}

// Rows builds the grid cells: one row per variable, one column per board,
// with the variable label as the leading index column.
func Rows(solutions []model.Solution, labels Labeler, opts Options) [][]string {
	if len(solutions) == 0 {
		return nil
	}

	byBoard := make(map[string][]model.Solution)
	for _, s := range solutions {
		byBoard[s.Board()] = append(byBoard[s.Board()], s)
	}
	boards := make([]string, 0, len(byBoard))
	for b := range byBoard {
		boards = append(boards, b)
	}
	sort.Strings(boards)

	names := solutions[0].Names()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		row := make([]string, 0, len(boards)+1)
		row = append(row, labels.ShortName(name))
		for _, board := range boards {
			row = append(row, cell(name, byBoard[board], labels, opts))
		}
		rows = append(rows, row)
	}
	return rows
}

// cell lists the distinct values a variable takes for one board, in domain order
func cell(name string, solutions []model.Solution, labels Labeler, opts Options) string {
	present := make(map[model.Value]bool)
	for _, s := range solutions {
		if v, ok := s.Get(name); ok {
			present[v] = true
		}
	}

	domain := labels.Domain(name)
	if opts.Short && name != model.BoardVariable && coversDomain(present, domain) {
		return "ALL"
	}

	ordered := make([]model.Value, 0, len(present))
	seen := make(map[model.Value]bool, len(present))
	for _, v := range domain {
		if present[v] {
			ordered = append(ordered, v)
			seen[v] = true
		}
	}
	var extra []model.Value
	for v := range present {
		if !seen[v] {
			extra = append(extra, v)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	ordered = append(ordered, extra...)

	lines := make([]string, len(ordered))
	for i, v := range ordered {
		lines[i] = labels.ShortValue(name, v)
	}
	return strings.Join(lines, "\n")
}

func coversDomain(present map[model.Value]bool, domain []model.Value) bool {
	if len(domain) == 0 || len(present) != len(domain) {
		return false
	}
	for _, v := range domain {
		if !present[v] {
			return false
		}
	}
	return true
}

// Render writes the grid for solutions to w
func Render(w io.Writer, solutions []model.Solution, labels Labeler, opts Options) error {
	return WriteGrid(w, Rows(solutions, labels, opts))
}

// WriteGrid draws rows as a bordered table. Cells may span several lines; the
// first column is right-aligned and the rest are left-aligned.
func WriteGrid(w io.Writer, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for _, row := range rows {
		for i, c := range row {
			for _, line := range strings.Split(c, "\n") {
				if n := utf8.RuneCountInString(line); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	var border strings.Builder
	border.WriteByte('+')
	for _, width := range widths {
		border.WriteString(strings.Repeat("-", width+2))
		border.WriteByte('+')
	}
	border.WriteByte('\n')

	bw := bufio.NewWriter(w)
	bw.WriteString(border.String())
	for _, row := range rows {
		cells := make([][]string, cols)
		height := 1
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.Split(row[i], "\n")
			}
			if len(cells[i]) > height {
				height = len(cells[i])
			}
		}
		for line := 0; line < height; line++ {
			bw.WriteByte('|')
			for i, width := range widths {
				text := ""
				if line < len(cells[i]) {
					text = cells[i][line]
				}
				pad := strings.Repeat(" ", width-utf8.RuneCountInString(text))
				bw.WriteByte(' ')
				if i == 0 {
					bw.WriteString(pad + text)
				} else {
					bw.WriteString(text + pad)
				}
				bw.WriteString(" |")
			}
			bw.WriteByte('\n')
		}
		bw.WriteString(border.String())
	}
	return bw.Flush()
}
