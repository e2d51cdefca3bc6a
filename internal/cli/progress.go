package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/atom-ai/internal/client"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

const pollInterval = 2 * time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the batch progress
type tickMsg time.Time

// progressMsg carries the updated batch counters
type progressMsg struct {
	progress *models.Progress
	err      error
}

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	client   *client.Client
	batchID  string
	current  *models.Progress
	bar      progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, batchID string) progressModel {
	return progressModel{
		client:  c,
		batchID: batchID,
		bar: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

// Init fetches the first snapshot right away.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.fetchProgress(), m.bar.Init())
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchProgress()

	case progressMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch batch progress: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.current = msg.progress
		if m.current.Status.Terminal() {
			m.done = true
			if m.current.Status == models.BatchFailed {
				m.err = fmt.Errorf("batch failed: %d of %d jobs failed", m.current.Failed, m.current.Total)
			}
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.current == nil {
		return "Loading batch progress...\n"
	}

	p := m.current
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", p.Status))
	bar := m.bar.ViewAs(p.ProgressPercent / 100)
	counts := fmt.Sprintf("%d/%d jobs", p.Completed, p.Total)
	if p.Failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" %d failed", p.Failed))
	}
	detail := m.theme.hintStyle().Render(fmt.Sprintf("pending %d, queued %d, running %d",
		p.Stats.Pending, p.Stats.Queued, p.Stats.Running))
	hint := m.theme.hintStyle().Render("Press Ctrl+C to keep the batch running in the background")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, bar, counts, detail, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nBatch %s continues in background.\nUse 'atomai batch show %s' to check status.\n",
			m.batchID, m.batchID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	return summaryLine(m.theme, m.current)
}

// summaryLine renders the settled state of a batch.
func summaryLine(t Theme, p *models.Progress) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	switch p.Status {
	case models.BatchCompleted:
		b.WriteString(t.completedStyle().Render("✓ Completed"))
	case models.BatchCancelled:
		b.WriteString(t.hintStyle().Render("Cancelled"))
	default:
		b.WriteString(t.errorStyle().Render("✗ " + string(p.Status)))
	}
	fmt.Fprintf(&b, "\n\n  Completed: %d\n  Failed:    %d\n  Skipped:   %d\n  Total:     %d\n",
		p.Completed, p.Failed, p.Stats.Skipped, p.Total)
	return b.String()
}

// fetchProgress runs in a command so Update never blocks on the network.
func (m progressModel) fetchProgress() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := m.client.Progress(ctx, m.batchID)
		return progressMsg{progress: p, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunBatchProgress follows a batch until it settles. On a terminal it shows
// the interactive progress bar; otherwise it prints one line per update from
// the server's progress stream. Ctrl+C leaves the batch running.
func RunBatchProgress(ctx context.Context, c *client.Client, batchID string) error {
	if !interactive() {
		return streamProgress(ctx, c, batchID)
	}

	p := tea.NewProgram(newProgressModel(c, batchID))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

func streamProgress(ctx context.Context, c *client.Client, batchID string) error {
	var last models.Progress
	err := c.WatchProgress(ctx, batchID, func(p models.Progress) error {
		last = p
		fmt.Printf("%s %s %5.1f%% %d/%d completed, %d failed\n",
			time.Now().Format(time.TimeOnly), p.Status, p.ProgressPercent, p.Completed, p.Total, p.Failed)
		return nil
	})
	if err != nil {
		return err
	}
	if last.Status == models.BatchFailed {
		return fmt.Errorf("batch failed: %d of %d jobs failed", last.Failed, last.Total)
	}
	return nil
}
