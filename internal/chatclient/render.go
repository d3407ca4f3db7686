package chatclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mohammad-safakhou/omegarag/internal/helpers"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/models"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	citedStyle  = cellStyle.Foreground(lipgloss.Color("42"))
)

const maxTitleWidth = 60

// Renderer formats answers and sources for a terminal.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer builds a markdown renderer. plain disables styling, e.g. when output is piped.
func NewRenderer(width int, plain bool) (*Renderer, error) {
	if width <= 0 {
		width = 80
	}
	style := glamour.WithAutoStyle()
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &Renderer{md: md}, nil
}

// Answer renders markdown, falling back to the raw text if rendering fails.
func (r *Renderer) Answer(text string) string {
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}

func (r *Renderer) Prompt() string { return promptStyle.Render("omega> ") }

func (r *Renderer) Error(err error) string { return errorStyle.Render("[Error]") + " " + err.Error() }

// Sources draws the sources table; rows cited in answer are highlighted.
func (r *Renderer) Sources(sources []models.Source, answer string) string {
	if len(sources) == 0 {
		return dimStyle.Render("No sources for the last answer.")
	}
	cited := map[int]bool{}
	for _, n := range helpers.CitedIndices(answer, len(sources)) {
		cited[n] = true
	}

	rows := make([][]string, 0, len(sources))
	for i, s := range sources {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			orNA(s.Identifier),
			orNA(s.DomainPrimary),
			truncate(orNA(s.Title), maxTitleWidth),
			rag.RelevancePercent(s.RelevanceScore),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "PMID", "Domain", "Title", "Relevance").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case cited[row+1]:
				return citedStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

// Settings summarises the current search controls.
func (r *Renderer) Settings(p models.SearchParams) string {
	line := fmt.Sprintf("search: %s | mode: %s | top_k: %d", p.SearchType, p.QueryMode, p.TopK)
	if p.SearchType == models.SearchHybrid && p.Alpha != nil {
		line += fmt.Sprintf(" | alpha: %.2f", *p.Alpha)
	}
	return dimStyle.Render(line)
}

const helpText = `Commands:
  /type semantic|statistical|hybrid   search method
  /mode last|all                      query with the last message or the whole conversation
  /topk N                             number of studies to retrieve (1-20)
  /alpha X                            hybrid blend weight (0-1)
  /sources                            show sources of the last answer
  /settings                           show current search settings
  /new                                start a new conversation
  /quit                               exit`

func (r *Renderer) Help() string { return helpText }

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
