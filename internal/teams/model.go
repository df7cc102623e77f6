package teams

import (
	"context"
	"time"

	"mandalaquest/internal/broadcast"
	"mandalaquest/internal/progression"
	"mandalaquest/internal/session"
	"mandalaquest/internal/wshub"
)

// Instance is one team's independent challenge: its session, map progress
// and the fan-outs watching it.
type Instance struct {
	Code        string
	Team        progression.Team
	Session     *session.Session
	Progress    *progression.Tracker
	Broadcaster *broadcast.Broadcaster
	Hub         *wshub.Hub
	CreatedAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Stop ends the tick loop and waits for it; the acquisition worker stops
// with it.
func (in *Instance) Stop() {
	in.cancel()
	<-in.done
}

// Busy reports whether an attempt is counting down or running.
func (in *Instance) Busy() bool {
	switch in.Session.Phase() {
	case session.PhaseCountdown, session.PhaseActive:
		return true
	}
	return false
}
