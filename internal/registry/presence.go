// Package registry holds the in-memory presence, session, and room state of
// the signaling service. All registries are plain maps owned by the gateway's
// dispatch goroutine: mutations never interleave, so no locking is required.
// State is process-lifetime only and is rebuilt from live connections after a
// restart.
package registry

import "sort"

// Conn is a live connection handle capable of receiving named events.
// Delivery is fire-and-forget: a slow or closed connection drops the event.
type Conn interface {
	Send(event string, payload any)
}

// Presence maps a user identity to its current live connection. One handle
// per identity; the latest connect wins.
type Presence struct {
	byIdentity map[string]Conn
}

// NewPresence creates an empty presence registry
func NewPresence() *Presence {
	return &Presence{
		byIdentity: make(map[string]Conn),
	}
}

// SetOnline records conn as the live handle for identity, replacing any
// prior handle
func (p *Presence) SetOnline(identity string, conn Conn) {
	p.byIdentity[identity] = conn
}

// Resolve returns the live connection for identity, if any
func (p *Presence) Resolve(identity string) (Conn, bool) {
	conn, ok := p.byIdentity[identity]
	return conn, ok
}

// Clear removes the entry whose handle matches conn and returns the identity
// it was registered under. Used on disconnect. Linear scan: cardinality is
// the number of concurrently connected clients.
func (p *Presence) Clear(conn Conn) (string, bool) {
	for identity, c := range p.byIdentity {
		if c == conn {
			delete(p.byIdentity, identity)
			return identity, true
		}
	}
	return "", false
}

// Snapshot returns the currently online identities, sorted for deterministic
// broadcasts
func (p *Presence) Snapshot() []string {
	identities := make([]string, 0, len(p.byIdentity))
	for identity := range p.byIdentity {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// Each visits every online identity and its connection
func (p *Presence) Each(fn func(identity string, conn Conn)) {
	for identity, conn := range p.byIdentity {
		fn(identity, conn)
	}
}

// Len returns the number of online identities
func (p *Presence) Len() int {
	return len(p.byIdentity)
}
