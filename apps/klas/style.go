package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/theme"
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	status  map[klasapi.AttendanceStatus]lipgloss.Style
	none    lipgloss.Style
}

func newStyles(t theme.Theme) styles {
	lipgloss.SetHasDarkBackground(t == theme.Dark)

	color := func(light, dark string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: light, Dark: dark})
	}
	return styles{
		title:   color("#1D4ED8", "#93C5FD").Bold(true),
		label:   color("#374151", "#D1D5DB").Width(16),
		muted:   color("#6B7280", "#9CA3AF"),
		success: color("#15803D", "#86EFAC"),
		failure: color("#B91C1C", "#FCA5A5"),
		status: map[klasapi.AttendanceStatus]lipgloss.Style{
			klasapi.StatusHadir: color("#15803D", "#86EFAC").Bold(true),
			klasapi.StatusIzin:  color("#1D4ED8", "#93C5FD").Bold(true),
			klasapi.StatusSakit: color("#B45309", "#FCD34D").Bold(true),
			klasapi.StatusAlfa:  color("#B91C1C", "#FCA5A5").Bold(true),
		},
		none: color("#6B7280", "#9CA3AF").Italic(true),
	}
}

// statusLabel renders a status with its colour. An empty status reads "Belum Presensi".
func (s styles) statusLabel(status klasapi.AttendanceStatus) string {
	if st, ok := s.status[status]; ok {
		return st.Render(status.Label())
	}
	return s.none.Render(status.Label())
}

func (s styles) field(label, value string) string {
	if value == "" {
		value = "-"
	}
	return s.label.Render(label) + value
}
