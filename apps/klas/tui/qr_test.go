package tui

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g4mless/mykelas-web/core/klasapi"
)

func newModel(t *testing.T, opts ...QROption) QRModel {
	t.Helper()
	fetch := func(context.Context) (*klasapi.QRToken, error) {
		return &klasapi.QRToken{Token: "tok-1", ExpiresIn: 60}, nil
	}
	return NewQRModel(context.Background(), "XII IPA 1", fetch, opts...)
}

func update(t *testing.T, m QRModel, msg tea.Msg) (QRModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	qm, ok := next.(QRModel)
	require.True(t, ok)
	return qm, cmd
}

func TestQRModel_Token(t *testing.T) {
	m := newModel(t)
	assert.Contains(t, m.View(), "Generating QR code")

	m, _ = update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "tok-1", ExpiresIn: 3}})
	assert.Equal(t, "tok-1", m.Display().Token)
	assert.Contains(t, m.View(), "Valid for 3s")

	for i := 0; i < 5; i++ {
		var cmd tea.Cmd
		m, cmd = update(t, m, countdownMsg{})
		assert.NotNil(t, cmd, "countdown keeps ticking")
	}
	assert.Equal(t, 0, m.Display().TimeLeft)
	d := m.Display()
	assert.True(t, d.Expired())
	assert.Contains(t, m.View(), "Expired")

	t.Run("failed refresh keeps the token", func(t *testing.T) {
		m, _ := update(t, m, tokenMsg{err: errors.New("forbidden")})
		assert.Equal(t, "tok-1", m.Display().Token)
		assert.Contains(t, m.View(), "Refresh failed: forbidden")
	})

	t.Run("new token restarts the countdown", func(t *testing.T) {
		m, _ := update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "tok-2", ExpiresIn: 60}})
		assert.Equal(t, "tok-2", m.Display().Token)
		assert.Equal(t, 60, m.Display().TimeLeft)
		assert.NoError(t, m.Display().Err)
	})
}

func TestQRModel_FirstFetchFails(t *testing.T) {
	m := newModel(t)
	m, _ = update(t, m, tokenMsg{err: errors.New("class not found")})
	assert.Contains(t, m.View(), "Could not generate a QR code: class not found")
}

func TestQRModel_Refresh(t *testing.T) {
	m := newModel(t)
	assert.NotNil(t, m.Init())

	// the first fetch is in flight from Init
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Nil(t, cmd)

	m, cmd = update(t, m, refreshMsg{})
	assert.NotNil(t, cmd)
	assert.True(t, m.fetching)

	// a manual refresh is ignored while a fetch is in flight
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Nil(t, cmd)

	m, _ = update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "tok-1", ExpiresIn: 60}})
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, tokenMsg{token: &klasapi.QRToken{Token: "tok-1", ExpiresIn: 60}}, msg)
}

func TestQRModel_Quit(t *testing.T) {
	m := newModel(t)
	m, _ = update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "tok-1", ExpiresIn: 60}})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.Display().Token)
	assert.Empty(t, m.View())
}

func TestQRModel_OnToken(t *testing.T) {
	var got []string
	m := newModel(t, OnToken(func(tok *klasapi.QRToken) error {
		got = append(got, tok.Token)
		if tok.Token == "bad" {
			return errors.New("writing qr.png: disk full")
		}
		return nil
	}))

	m, _ = update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "bad", ExpiresIn: 60}})
	assert.Contains(t, m.View(), "disk full")
	m, _ = update(t, m, tokenMsg{token: &klasapi.QRToken{Token: "good", ExpiresIn: 60}})
	assert.NotContains(t, m.View(), "disk full")
	assert.Equal(t, []string{"bad", "good"}, got)
}

func TestRenderQR(t *testing.T) {
	out, err := RenderQR("d2f1c8e0-token")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	width := len([]rune(lines[0]))
	for _, line := range lines {
		assert.Equal(t, width, len([]rune(line)))
	}
	// the quiet zone is light on every side
	assert.Equal(t, strings.Repeat("█", width), lines[0])
}

func TestWritePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.png")
	require.NoError(t, WritePNG("d2f1c8e0-token", path, 128))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	assert.Error(t, WritePNG("x", filepath.Join(t.TempDir(), "missing", "qr.png"), 128))
}
