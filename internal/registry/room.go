package registry

import (
	"sort"
	"time"

	"voxlink/internal/domain"
)

// Rooms tracks multi-party room rosters keyed by session id. A room is a
// generalization of the 1:1 session: N participants, each with optimistic
// media-enabled flags. Rosters are ephemeral and vanish with the last leave.
type Rooms struct {
	byRoom map[string]map[string]domain.RoomParticipant
}

// NewRooms creates an empty room registry
func NewRooms() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]domain.RoomParticipant),
	}
}

// Join adds (or refreshes) a participant in roomID and returns the stored entry
func (r *Rooms) Join(roomID string, p domain.RoomParticipant) domain.RoomParticipant {
	room, ok := r.byRoom[roomID]
	if !ok {
		room = make(map[string]domain.RoomParticipant)
		r.byRoom[roomID] = room
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	room[p.UserID] = p
	return p
}

// Leave removes userID from roomID and returns the removed participant.
// An empty room is deleted.
func (r *Rooms) Leave(roomID, userID string) (domain.RoomParticipant, bool) {
	room, ok := r.byRoom[roomID]
	if !ok {
		return domain.RoomParticipant{}, false
	}
	p, ok := room[userID]
	if !ok {
		return domain.RoomParticipant{}, false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.byRoom, roomID)
	}
	return p, true
}

// SetState updates a participant's media-enabled flags
func (r *Rooms) SetState(roomID, userID string, isMuted, isVideoOn bool) (domain.RoomParticipant, bool) {
	room, ok := r.byRoom[roomID]
	if !ok {
		return domain.RoomParticipant{}, false
	}
	p, ok := room[userID]
	if !ok {
		return domain.RoomParticipant{}, false
	}
	p.IsMuted = isMuted
	p.IsVideoOn = isVideoOn
	room[userID] = p
	return p, true
}

// LeaveAll removes userID from every room it joined and returns the removed
// entries keyed by room id. Used on disconnect so abandoned rosters do not
// accumulate.
func (r *Rooms) LeaveAll(userID string) map[string]domain.RoomParticipant {
	removed := make(map[string]domain.RoomParticipant)
	for roomID, room := range r.byRoom {
		if p, ok := room[userID]; ok {
			delete(room, userID)
			removed[roomID] = p
			if len(room) == 0 {
				delete(r.byRoom, roomID)
			}
		}
	}
	return removed
}

// Members returns the roster of roomID ordered by join time
func (r *Rooms) Members(roomID string) []domain.RoomParticipant {
	room, ok := r.byRoom[roomID]
	if !ok {
		return nil
	}
	members := make([]domain.RoomParticipant, 0, len(room))
	for _, p := range room {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}
