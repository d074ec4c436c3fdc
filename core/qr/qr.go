// Package qr holds the state of the student-side QR scanner and the teacher-side token display.
package qr

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core/klasapi"
)

const (
	// DefaultRefreshInterval is how often the display requests a new token, ahead of the
	// server's expiry.
	DefaultRefreshInterval = 55 * time.Second
	// CountdownTick is the display countdown's resolution.
	CountdownTick = time.Second
)

// ErrLocked is returned by Scanner.Submit once a payload has been taken.
var ErrLocked = errors.New("scanner is locked")

// ScanState of a Scanner.
type ScanState int

const (
	Ready ScanState = iota
	Busy
	Done
	Failed
)

func (s ScanState) String() string {
	return [...]string{"ready", "busy", "done", "failed"}[s]
}

// Redeemer turns a scanned token into an attendance record.
type Redeemer interface {
	RedeemQR(ctx context.Context, qrToken string) (*klasapi.AttendanceResponse, error)
}

// Scanner submits at most one decoded payload at a time. It locks on the first payload; a
// failed redemption stays locked until the user asks to Retry.
type Scanner struct {
	redeemer Redeemer

	mu    sync.Mutex
	state ScanState
	err   error
}

func NewScanner(r Redeemer) *Scanner {
	return &Scanner{redeemer: r}
}

// Submit redeems payload unless the scanner is locked. Empty payloads are ignored and
// return (nil, nil).
func (s *Scanner) Submit(ctx context.Context, payload string) (*klasapi.AttendanceResponse, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return nil, ErrLocked
	}
	s.state = Busy
	s.mu.Unlock()

	resp, err := s.redeemer.RedeemQR(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state, s.err = Failed, err
		return nil, err
	}
	s.state, s.err = Done, nil
	return resp, nil
}

// Retry unlocks a scanner whose last redemption failed. It reports whether it did.
func (s *Scanner) Retry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Failed {
		return false
	}
	s.state, s.err = Ready, nil
	return true
}

// State returns the scanner state and the last redemption error.
func (s *Scanner) State() (ScanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Display is the teacher-side token view: the current token and a countdown that is only
// decremented locally. Refresh timing is independent of the countdown.
type Display struct {
	Token    string
	TimeLeft int // seconds
	Err      error
}

// SetToken shows a freshly issued token and restarts the countdown from its lifetime.
func (d *Display) SetToken(t *klasapi.QRToken) {
	d.Token, d.TimeLeft, d.Err = t.Token, t.ExpiresIn, nil
}

// Fail records a failed refresh; the previous token stays on screen.
func (d *Display) Fail(err error) {
	d.Err = err
}

// Tick advances the countdown by one second, stopping at zero.
func (d *Display) Tick() {
	if d.TimeLeft > 0 {
		d.TimeLeft--
	}
}

// Reset clears the display, as when it is closed.
func (d *Display) Reset() {
	*d = Display{}
}

// Expired reports whether a token is shown but its countdown ran out.
func (d *Display) Expired() bool {
	return d.Token != "" && d.TimeLeft == 0
}
