// Package tui holds the interactive terminal views of the klas client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/qr"
)

// Fetcher issues a new attendance token.
type Fetcher func(ctx context.Context) (*klasapi.QRToken, error)

type (
	tokenMsg struct {
		token *klasapi.QRToken
		err   error
	}
	countdownMsg struct{}
	refreshMsg   struct{}
)

// QRModel shows a class attendance token as a QR code. The countdown and the token refresh
// run on separate timers: the countdown only decrements locally, and a new token is
// requested every refresh interval whatever the countdown shows.
type QRModel struct {
	ctx      context.Context
	title    string
	fetch    Fetcher
	interval time.Duration
	onToken  func(*klasapi.QRToken) error

	display  qr.Display
	fetching bool
	hookErr  error
	quitting bool

	frame lipgloss.Style
	muted lipgloss.Style
	alert lipgloss.Style
}

type QROption func(*QRModel)

// WithRefreshInterval overrides qr.DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) QROption {
	return func(m *QRModel) {
		if d > 0 {
			m.interval = d
		}
	}
}

// OnToken runs fn for every token received, e.g. to export it.
func OnToken(fn func(*klasapi.QRToken) error) QROption {
	return func(m *QRModel) { m.onToken = fn }
}

func NewQRModel(ctx context.Context, title string, fetch Fetcher, opts ...QROption) QRModel {
	m := QRModel{
		ctx:      ctx,
		title:    title,
		fetch:    fetch,
		interval: qr.DefaultRefreshInterval,
		fetching: true, // Init starts the first fetch
		frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#93C5FD"}).
			Padding(0, 1),
		muted: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}),
		alert: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#FCA5A5"}),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m QRModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), countdown(), m.scheduleRefresh())
}

func (m QRModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.display.Reset()
			m.quitting = true
			return m, tea.Quit
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, m.fetchCmd()
			}
		}

	case tokenMsg:
		m.fetching = false
		if msg.err != nil {
			m.display.Fail(msg.err)
			return m, nil
		}
		m.display.SetToken(msg.token)
		m.hookErr = nil
		if m.onToken != nil {
			m.hookErr = m.onToken(msg.token)
		}

	case countdownMsg:
		m.display.Tick()
		return m, countdown()

	case refreshMsg:
		m.fetching = true
		return m, tea.Batch(m.fetchCmd(), m.scheduleRefresh())
	}
	return m, nil
}

func (m QRModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(m.title))
	b.WriteString("\n\n")

	switch {
	case m.display.Token == "" && m.display.Err == nil:
		b.WriteString(m.muted.Render("Generating QR code..."))
	case m.display.Token == "":
		b.WriteString(m.alert.Render("Could not generate a QR code: " + m.display.Err.Error()))
	default:
		code, err := RenderQR(m.display.Token)
		if err != nil {
			b.WriteString(m.alert.Render(err.Error()))
		} else {
			b.WriteString(code)
		}
		b.WriteString("\n")
		if m.display.Expired() {
			b.WriteString(m.alert.Render("Expired, waiting for a new code"))
		} else {
			b.WriteString(fmt.Sprintf("Valid for %ds", m.display.TimeLeft))
		}
		if m.display.Err != nil {
			b.WriteString("\n" + m.alert.Render("Refresh failed: "+m.display.Err.Error()))
		}
	}
	if m.hookErr != nil {
		b.WriteString("\n" + m.alert.Render(m.hookErr.Error()))
	}
	b.WriteString("\n\n" + m.muted.Render("r refresh • q quit"))
	return m.frame.Render(b.String()) + "\n"
}

// Display returns the current token view.
func (m QRModel) Display() qr.Display { return m.display }

func (m QRModel) fetchCmd() tea.Cmd {
	ctx, fetch := m.ctx, m.fetch
	return func() tea.Msg {
		token, err := fetch(ctx)
		return tokenMsg{token: token, err: err}
	}
}

func (m QRModel) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func countdown() tea.Cmd {
	return tea.Tick(qr.CountdownTick, func(time.Time) tea.Msg { return countdownMsg{} })
}

// RenderQR draws payload as a QR code with two modules per character cell, light modules
// drawn as blocks so the code reads on dark terminals.
func RenderQR(payload string) (string, error) {
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", errors.Wrap(err, "encoding QR code")
	}
	bitmap := code.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := !bitmap[y][x]
			bottom := y+1 < len(bitmap) && !bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteString("█")
			case top:
				b.WriteString("▀")
			case bottom:
				b.WriteString("▄")
			default:
				b.WriteString(" ")
			}
		}
		if y+2 < len(bitmap) {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// WritePNG saves payload as a size x size PNG QR code.
func WritePNG(payload, path string, size int) error {
	return errors.Wrapf(qrcode.WriteFile(payload, qrcode.Medium, size, path), "writing %s", path)
}
