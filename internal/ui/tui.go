package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *statusModel
	board   *StatusBoard
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if TUI initialization fails (e.g., non-TTY output).
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	// Verify output is a TTY
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	board := NewStatusBoard()
	model := newStatusModel(board, cfg.ServerURL)

	// Apply color settings
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		board: board,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	// Create program with output
	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	// Use alternate screen buffer for proper clearing between renders
	opts = append(opts, tea.WithAltScreen())

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	// Run in background
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateJob implements Renderer.
func (r *TUIRenderer) UpdateJob(job JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.board.UpdateJob(job)

	if r.program != nil {
		r.program.Send(jobMsg(job))
	}
}

// UpdateQueue implements Renderer.
func (r *TUIRenderer) UpdateQueue(queue QueueSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.board.UpdateQueue(queue)

	if r.program != nil {
		r.program.Send(queueMsg(queue))
	}
}

// SetConnState implements Renderer.
func (r *TUIRenderer) SetConnState(state ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.board.SetConnState(state)

	if r.program != nil {
		r.program.Send(connMsg(state))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	if r.program != nil {
		r.program.Quit()

		// Wait with timeout to avoid hanging on unresponsive TUI
		select {
		case <-r.done:
			// Clean exit
		case <-time.After(2 * time.Second):
			// TUI didn't respond to quit, proceed anyway
			// This prevents the process from hanging on Ctrl+C
		}
	}

	return nil
}

// Message types for bubbletea
type jobMsg JobUpdate
type queueMsg QueueSnapshot
type connMsg ConnState
type tickMsg time.Time

// statusModel is the bubbletea model for the live status view.
type statusModel struct {
	board       *StatusBoard
	width       int
	height      int
	quitting    bool
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	serverURL   string
}

// newStatusModel creates a new status model.
func newStatusModel(board *StatusBoard, serverURL string) *statusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	// Solid lime green progress bar (asitop-inspired, not gradient)
	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	return &statusModel{
		board:       board,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		serverURL:   serverURL,
	}
}

// Init implements tea.Model.
func (m *statusModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
	)
}

// tickCmd returns a command that ticks every 100ms.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Responsive progress bar width - scales with terminal
		m.progressBar.Width = msg.Width / 3
		if m.progressBar.Width < 15 {
			m.progressBar.Width = 15
		}

	case jobMsg, queueMsg, connMsg:
		// Already handled by board in renderer
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *statusModel) View() string {
	if m.quitting {
		return "Stopped.\n"
	}

	// Calculate content width for panels - full terminal width minus borders
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40 // Minimum readable width
	}

	stats := m.board.Stats()

	var sections []string

	// Connection + queue counter row
	sections = append(sections, m.renderConnection(stats))
	sections = append(sections, m.renderQueue(stats.Queue))

	// Divider
	sections = append(sections, m.renderDivider(contentWidth))

	// Job rows
	sections = append(sections, m.renderJobs(stats.Jobs, contentWidth))

	// Throughput
	sections = append(sections, m.renderDivider(contentWidth))
	sections = append(sections, m.renderThroughput(stats.Speed, contentWidth))

	// Join sections
	content := strings.Join(sections, "\n")

	// Wrap in panel with box border - include server address in header
	title := "AmanRAG Status"
	if m.serverURL != "" {
		title = fmt.Sprintf("AmanRAG Status • %s", m.serverURL)
	}
	panel := m.wrapInPanel(title, content, contentWidth)

	// Add status bar below panel
	statusBar := m.renderStatusBar(stats)

	return panel + "\n" + statusBar
}

// renderConnection renders the event stream connection state.
func (m *statusModel) renderConnection(stats BoardStats) string {
	switch stats.Conn {
	case ConnConnected:
		return m.styles.Success.Render("● connected")
	case ConnReconnecting:
		return m.spinner.View() + m.styles.Warning.Render(" reconnecting...")
	default:
		return m.spinner.View() + m.styles.Dim.Render(" connecting...")
	}
}

// renderQueue renders the queue counter row.
func (m *statusModel) renderQueue(q QueueSnapshot) string {
	parts := []string{
		m.styles.Active.Render(fmt.Sprintf("%d active", q.Active)),
		m.styles.Label.Render(fmt.Sprintf("%d queued", q.Queued)),
		m.styles.Success.Render(fmt.Sprintf("%d completed", q.Completed)),
	}
	if q.Failed > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("%d failed", q.Failed)))
	} else {
		parts = append(parts, m.styles.Dim.Render("0 failed"))
	}

	separator := m.styles.Dim.Render("  •  ")
	return strings.Join(parts, separator)
}

// renderJobs renders one row per job on the board.
func (m *statusModel) renderJobs(jobs []JobUpdate, width int) string {
	if len(jobs) == 0 {
		return m.styles.Dim.Render("No documents in flight.")
	}

	nameWidth := width / 3
	if nameWidth < 16 {
		nameWidth = 16
	}

	var rows []string
	for _, j := range jobs {
		rows = append(rows, m.renderJobRow(j, nameWidth))
	}
	return strings.Join(rows, "\n")
}

// renderJobRow renders a single job: name, stage, and progress.
func (m *statusModel) renderJobRow(j JobUpdate, nameWidth int) string {
	name := truncateFilePath(j.Filename, nameWidth)
	namePart := m.styles.Label.Render(fmt.Sprintf("%-*s", nameWidth, name))

	switch {
	case j.Stage == "completed":
		return fmt.Sprintf("%s %s", namePart, m.styles.Success.Render("✓ done"))
	case j.Failed():
		msg := j.Message
		if msg == "" {
			msg = "failed"
		}
		return fmt.Sprintf("%s %s", namePart, m.styles.Error.Render("✗ "+msg))
	default:
		bar := m.progressBar.ViewAs(float64(j.Progress) / 100.0)
		stage := m.styles.Stage.Render(fmt.Sprintf("%-9s", StageLabel(j.Stage)))
		pct := m.styles.Active.Render(fmt.Sprintf("%3d%%", j.Progress))
		return fmt.Sprintf("%s %s %s %s", namePart, stage, bar, pct)
	}
}

// renderThroughput renders the completion rate sparkline.
func (m *statusModel) renderThroughput(speed SpeedStats, width int) string {
	// Responsive sparkline width - scales with terminal
	sparkWidth := width - 30
	if sparkWidth < 10 {
		sparkWidth = 10
	}

	spark := m.board.RenderSparkline(sparkWidth)
	label := fmt.Sprintf("%.1f docs/s", speed.Current)
	if speed.Peak > 0 {
		label += fmt.Sprintf(" (peak %.1f)", speed.Peak)
	}

	return m.styles.Sparkline.Render(spark) + " " + m.styles.Speed.Render(label)
}

// renderDivider renders a horizontal divider line.
func (m *statusModel) renderDivider(width int) string {
	line := strings.Repeat("─", width)
	return m.styles.Border.Render(line)
}

// wrapInPanel wraps content in a box border with title.
func (m *statusModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	// Render title in header style
	titleStyled := m.styles.Header.Render(title)

	// Build the panel with title
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyled,
		panel.Render(content),
	)
}

// renderStatusBar renders the bottom status bar with recent failures.
func (m *statusModel) renderStatusBar(stats BoardStats) string {
	if len(stats.Failed) == 0 {
		return m.styles.Dim.Render("q to quit")
	}

	latest := stats.Failed[0]
	msg := latest.Message
	if msg == "" {
		msg = "processing failed"
	}
	failure := m.styles.Error.Render(fmt.Sprintf("✗ %s: %s", latest.Filename, msg))
	hint := m.styles.Dim.Render("  │  q to quit")

	return failure + hint
}

// truncateFilePath truncates a file path to fit within maxLen.
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}

	// Keep the filename and as much of the path as fits
	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		// No separators, just truncate
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}

	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		// Filename alone is too long
		return "..." + filename[len(filename)-maxLen+3:]
	}

	// Try to fit as much path as possible
	remaining := maxLen - len(filename) - 4 // 4 for ".../"
	if remaining <= 0 {
		return ".../" + filename
	}

	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= remaining {
		return path
	}

	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

// Ensure TUIRenderer implements Renderer
var _ Renderer = (*TUIRenderer)(nil)
