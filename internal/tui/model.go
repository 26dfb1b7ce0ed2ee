// Package tui renders a live dashboard for a running swarm.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"connswarm/internal/swarm"
	"connswarm/internal/tui/components"
	"connswarm/internal/tui/styles"
)

type snapshotMsg swarm.Snapshot

type doneMsg []swarm.ConnectionOutcome

// Model is a single-view dashboard over one run.
type Model struct {
	Orch    *swarm.Orchestrator
	Updates swarm.SnapshotChan
	Done    chan []swarm.ConnectionOutcome
	Cancel  context.CancelFunc

	snap    swarm.Snapshot
	summary *swarm.Summary

	Progress   progress.Model
	ActiveLine components.Sparkline
	ProbeLine  components.Sparkline

	StartTime time.Time

	Width  int
	Height int
}

func NewModel(orch *swarm.Orchestrator, updates swarm.SnapshotChan, done chan []swarm.ConnectionOutcome, cancel context.CancelFunc) Model {
	return Model{
		Orch:       orch,
		Updates:    updates,
		Done:       done,
		Cancel:     cancel,
		Progress:   progress.New(progress.WithDefaultGradient()),
		ActiveLine: components.NewSparkline(40, "Active connections", styles.Active),
		ProbeLine:  components.NewSparkline(40, "Probe P90 (ms)", styles.Warn),
		StartTime:  time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.Updates),
		waitForDone(m.Done),
	)
}

func waitForUpdate(sub swarm.SnapshotChan) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-sub)
	}
}

func waitForDone(done chan []swarm.ConnectionOutcome) tea.Cmd {
	return func() tea.Msg {
		return doneMsg(<-done)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.Cancel()
			return m, tea.Quit
		case "d":
			// Force-drop a tenth of the live connections; handy for
			// eyeballing the stability counters.
			go m.Orch.SimulateDisconnections(10)
			return m, nil
		}

	case snapshotMsg:
		m.snap = swarm.Snapshot(msg)
		m.ActiveLine.Add(uint64(m.snap.Active))
		m.ProbeLine.Add(uint64(m.snap.P90ProbeMs))

		var cmd tea.Cmd
		if m.snap.Target > 0 {
			pct := float64(m.snap.Resolved) / float64(m.snap.Target)
			cmd = m.Progress.SetPercent(pct)
		}
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))

	case doneMsg:
		s := swarm.Aggregate([]swarm.ConnectionOutcome(msg))
		m.summary = &s
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 4
		if half < 10 {
			half = 10
		}
		m.ActiveLine.Width = half
		m.ProbeLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("connswarm — " + m.snap.Phase))
	s.WriteString("\n\n")

	col1 := fmt.Sprintf("CONN: %d/%d\nACTIVE: %d", m.snap.Resolved, m.snap.Target, m.snap.Active)

	failStyle := styles.Success
	if m.snap.Failed > 0 {
		failStyle = styles.Error
	}
	col2 := fmt.Sprintf("FAILED: %d\nDROPPED: %d", m.snap.Failed, m.snap.Spontaneous)

	col3 := fmt.Sprintf("PROBE P90: %.1f ms\nPROBE FAIL: %d", m.snap.P90ProbeMs, m.snap.ProbeFailures)

	grid := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(failStyle.Render(col2)),
		styles.Box.Render(col3),
	)
	s.WriteString(grid)
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.ActiveLine.View()),
		styles.Box.Render(m.ProbeLine.View()),
	))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString("\n\n")

	if m.summary != nil {
		sum := fmt.Sprintf(
			"DONE  success %d/%d  |  retention %.1f%%  |  stability %.1f%%  |  spontaneous %d",
			m.summary.Successful, m.summary.Total,
			m.summary.RetentionRate*100,
			m.summary.StabilityRate*100,
			m.summary.SpontaneousDisconnections,
		)
		s.WriteString(styles.Value.Render(sum))
		s.WriteString("\n\n")
	}

	footer := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.RenderKey("d", "drop 10%"),
		"   ",
		styles.RenderKey("q", "quit"),
	)
	s.WriteString(footer)

	return s.String()
}
