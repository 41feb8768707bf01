package sessions

import "simplemes/store"

// EventEmitter is the interface the sessions package uses to emit events.
type EventEmitter interface {
	EmitSessionOpened(s store.WorkstationSession, takeover bool)
	EmitSessionClosed(s store.WorkstationSession, reason string)
}

// Reasons passed to EmitSessionClosed.
const (
	CloseLogout   = "logout"
	CloseStale    = "stale"
	CloseTakeover = "takeover"
)

type nopEmitter struct{}

func (nopEmitter) EmitSessionOpened(store.WorkstationSession, bool)   {}
func (nopEmitter) EmitSessionClosed(store.WorkstationSession, string) {}
