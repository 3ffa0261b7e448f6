// Package ui provides reusable UI components for the ledgerd CLI.
// It includes spinners, progress bars, tables, and status badges.
package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ledgerkit/ledgerkit/cli/styles"
)

// SpinnerModel is a spinner component with a message
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(m.result) + "\n"
		}
		return styles.FormatSuccess(m.result) + "\n"
	}

	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}

	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// SpinnerDoneMsg signals that the spinner operation is complete
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

// ProgressModel is a progress bar component
type ProgressModel struct {
	progress progress.Model
	percent  float64
	message  string
	done     bool
}

// NewProgress creates a new progress bar
func NewProgress(message string) ProgressModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return ProgressModel{
		progress: p,
		message:  message,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return nil
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case ProgressMsg:
		m.percent = msg.Percent
		m.message = msg.Message
		if m.percent >= 1.0 {
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m ProgressModel) View() string {
	if m.done {
		return styles.FormatSuccess(m.message) + "\n"
	}

	return m.progress.ViewAs(m.percent) + " " + styles.Muted.Render(m.message) + "\n"
}

// ProgressMsg updates the progress bar
type ProgressMsg struct {
	Percent float64
	Message string
}

// Table renders an aligned two-dimensional listing with a header rule.
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row to the table. Extra values beyond the header count are
// dropped; missing ones render as empty cells.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
			if len(values[i]) > t.widths[i] {
				t.widths[i] = len(values[i])
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(styles.Primary)
	cellStyle := lipgloss.NewStyle().Foreground(styles.Text)

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = style.Render(cell + strings.Repeat(" ", t.widths[i]-len(cell)))
		}
		return "  " + strings.Join(parts, "  ")
	}

	total := 2
	for _, w := range t.widths {
		total += w + 2
	}

	var sb strings.Builder
	sb.WriteString(line(t.headers, headerStyle))
	sb.WriteString("\n")
	sb.WriteString(styles.Dim.Render(strings.Repeat("─", total)))
	sb.WriteString("\n")
	for _, row := range t.rows {
		sb.WriteString(line(row, cellStyle))
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "open", "running", "healthy", "ok", "completed", "applied":
		return lipgloss.NewStyle().
			Background(styles.Success).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "pending", "none", "waiting":
		return lipgloss.NewStyle().
			Background(styles.Warning).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "error", "failed", "closed":
		return lipgloss.NewStyle().
			Background(styles.Error).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Render(status)
	default:
		return lipgloss.NewStyle().
			Background(styles.Surface).
			Foreground(styles.Text).
			Padding(0, 1).
			Render(status)
	}
}

// SimpleBanner returns a small one-line banner
func SimpleBanner() string {
	banner := styles.IconLedger + " " + lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("ledgerd") +
		" " +
		styles.Muted.Render("- Event-Sourced Account Ledger")

	return banner
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}
