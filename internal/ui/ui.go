// Package ui renders CLI output: status colors and simple tables.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// ColorEnabled reports whether f is a terminal and the environment does not
// ask for plain output (NO_COLOR, CLICOLOR=0).
func ColorEnabled(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) && !termenv.EnvNoColor()
}

// Theme styles output for one writer.
type Theme struct {
	renderer *lipgloss.Renderer
	accent   lipgloss.Style
	pass     lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style
	muted    lipgloss.Style
	header   lipgloss.Style
}

// New returns a Theme for w. With color off every style renders plain text.
func New(w io.Writer, color bool) *Theme {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Theme{
		renderer: r,
		accent:   r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		pass:     r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
		fail:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("245")),
		header:   r.NewStyle().Bold(true).Padding(0, 1),
	}
}

func (t *Theme) RenderAccent(s string) string { return t.accent.Render(s) }
func (t *Theme) RenderPass(s string) string   { return t.pass.Render(s) }
func (t *Theme) RenderWarn(s string) string   { return t.warn.Render(s) }
func (t *Theme) RenderFail(s string) string   { return t.fail.Render(s) }
func (t *Theme) RenderMuted(s string) string  { return t.muted.Render(s) }

// RenderStatus colors a connection status.
func (t *Theme) RenderStatus(s types.ConnectionStatus) string {
	switch s {
	case types.ConnConnected:
		return t.RenderPass(string(s))
	case types.ConnDisconnected:
		return t.RenderFail(string(s))
	case types.ConnConnecting:
		return t.RenderWarn(string(s))
	default:
		return t.RenderMuted(string(s))
	}
}

// RenderSyncStatus colors a ledger status.
func (t *Theme) RenderSyncStatus(s types.SyncStatus) string {
	switch s {
	case types.SyncSynced:
		return t.RenderPass(string(s))
	case types.SyncFailed:
		return t.RenderFail(string(s))
	default:
		return t.RenderWarn(string(s))
	}
}

// Table renders rows under headers with a rounded border.
func (t *Theme) Table(headers []string, rows [][]string) string {
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header
			}
			return t.renderer.NewStyle().Padding(0, 1)
		})
	return tbl.String()
}
