package registry

import (
	"time"

	"voxlink/internal/domain"
)

// SessionRecord is the negotiation bookkeeping for one call: just enough to
// let accept/reject resolve the caller identity from a callId supplied by the
// other side. Deleted on reject/end and never read afterward.
type SessionRecord struct {
	CallID      string
	CallerID    string
	RecipientID string
	Type        domain.CallType
	CreatedAt   time.Time
}

// Sessions maps an ephemeral call id to its participant metadata.
// No TTL: terminal control messages and participant disconnects are the
// only cleanup paths.
type Sessions struct {
	byCall map[string]SessionRecord
}

// NewSessions creates an empty session registry
func NewSessions() *Sessions {
	return &Sessions{
		byCall: make(map[string]SessionRecord),
	}
}

// Create registers a session for callID
func (s *Sessions) Create(callID, callerID, recipientID string, callType domain.CallType) {
	s.byCall[callID] = SessionRecord{
		CallID:      callID,
		CallerID:    callerID,
		RecipientID: recipientID,
		Type:        callType,
		CreatedAt:   time.Now(),
	}
}

// Get returns the session record for callID, if present
func (s *Sessions) Get(callID string) (SessionRecord, bool) {
	rec, ok := s.byCall[callID]
	return rec, ok
}

// Delete removes the session for callID; reports whether an entry existed.
// Safe to call repeatedly.
func (s *Sessions) Delete(callID string) bool {
	if _, ok := s.byCall[callID]; !ok {
		return false
	}
	delete(s.byCall, callID)
	return true
}

// DeleteByParticipant removes every session naming identity as caller or
// recipient and returns the removed records.
func (s *Sessions) DeleteByParticipant(identity string) []SessionRecord {
	var removed []SessionRecord
	for callID, rec := range s.byCall {
		if rec.CallerID == identity || rec.RecipientID == identity {
			removed = append(removed, rec)
			delete(s.byCall, callID)
		}
	}
	return removed
}

// Len returns the number of registered sessions
func (s *Sessions) Len() int {
	return len(s.byCall)
}
