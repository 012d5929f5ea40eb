package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/session"
)

const minWidth = 40

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	v := m.view
	var b strings.Builder

	b.WriteString(headerStyle.Render("sketchround"))
	b.WriteString("\n")
	b.WriteString(m.renderRound(v))
	b.WriteString("\n")
	b.WriteString(m.renderCandidate(v))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar(v))

	if m.feed != nil {
		if lines := m.feed.Lines(); len(lines) > 0 {
			b.WriteString("\n")
			b.WriteString(logStyle.Render(strings.Join(m.fit(lines), "\n")))
		}
	}
	if m.errorMessage != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(truncate(m.errorMessage, m.lineWidth())))
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderRound(v session.View) string {
	state := v.Round.Status.String()
	badge := badgeStyle.Background(stateColor(state)).Render(strings.ToUpper(state))

	target := mutedStyle.Render("no target")
	if v.Round.Target != "" {
		target = targetStyle.Render(v.Round.Target)
	}

	line := fmt.Sprintf("%s  Draw: %s  %s", badge, target, mutedStyle.Render(formatElapsed(v.Round.Elapsed)))
	if v.Round.Status == session.StateActive && !v.Round.InputStarted {
		line += "  " + warningStyle.Render("waiting for input")
	}
	return truncate(line, m.lineWidth())
}

func (m Model) renderCandidate(v session.View) string {
	if v.Round.Status == session.StateWon {
		body := fmt.Sprintf("%s %s  %s\n%s",
			successStyle.Render("Matched"),
			targetStyle.Render(v.Stats.FinalLabel),
			primaryStyle.Render(classify.FormatPercent(v.Stats.FinalConfidence)),
			mutedStyle.Render(fmt.Sprintf("rank %d after %d attempts in %s",
				v.Stats.WinningRank, v.Stats.AttemptCount, formatElapsed(v.Stats.ElapsedAtWin))),
		)
		return winBox.Render(body)
	}

	if !v.HasDisplay {
		msg := "No guess yet"
		if v.Round.Status == session.StatePredicting {
			msg = "Looking at your drawing"
		}
		return candidateBox.Render(mutedStyle.Render(msg))
	}

	body := fmt.Sprintf("Guess %d/%d: %s  %s",
		v.Index+1, v.Total,
		targetStyle.Render(v.Displayed.Label),
		primaryStyle.Render(classify.FormatPercent(v.Displayed.Confidence)),
	)
	return candidateBox.Render(truncate(body, m.lineWidth()))
}

func (m Model) renderStatusBar(v session.View) string {
	parts := []string{fmt.Sprintf("attempts %d", v.Stats.AttemptCount)}
	if v.InFlight {
		parts = append(parts, m.spinner.View()+" classifying")
	}
	if v.StaleDrops > 0 {
		parts = append(parts, fmt.Sprintf("stale %d", v.StaleDrops))
	}
	if v.SessionID != "" {
		parts = append(parts, "session "+shortID(v.SessionID))
	}
	bar := strings.Join(parts, "  │  ")
	if m.width > 0 {
		return statusBarStyle.Width(m.width).Render(truncate(bar, m.lineWidth()))
	}
	return statusBarStyle.Render(bar)
}

func (m Model) fit(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = truncate(l, m.lineWidth())
	}
	return out
}

func (m Model) lineWidth() int {
	if m.width <= 0 {
		return 0
	}
	return max(m.width-4, minWidth)
}

// truncate cuts s to width visible columns; zero means unlimited.
func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
