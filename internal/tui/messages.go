package tui

import (
	"time"

	"github.com/campuslink/cskeep/internal/session"
)

type tickMsg time.Time

type eventMsg struct {
	event session.Event
}

type eventsClosedMsg struct{}

type forceDoneMsg struct {
	ok bool
}
