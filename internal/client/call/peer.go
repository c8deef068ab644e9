package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerLink is the negotiation object for one call. The engine never touches
// SDP or candidate internals; descriptions and candidates are opaque blobs
// that pass between the link and the wire.
type PeerLink interface {
	// AddTrack attaches a local media track before negotiation
	AddTrack(t Track) error

	// CreateOffer produces the local description for an outgoing call
	CreateOffer(ctx context.Context) (json.RawMessage, error)

	// AcceptOffer consumes the remote offer and produces the answer
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)

	// ApplyAnswer consumes the remote answer on the offering side
	ApplyAnswer(answer json.RawMessage) error

	// AddCandidate adds a remote network candidate
	AddCandidate(candidate json.RawMessage) error

	// OnCandidate registers the sink for locally gathered candidates.
	// Must be set before CreateOffer/AcceptOffer to catch trickle ICE.
	OnCandidate(fn func(candidate json.RawMessage))

	Close() error
}

// PeerFactory creates a fresh PeerLink per call
type PeerFactory func() (PeerLink, error)

// pionLink adapts a pion PeerConnection to the PeerLink contract
type pionLink struct {
	pc *webrtc.PeerConnection
}

// NewPionLink wraps an existing PeerConnection
func NewPionLink(pc *webrtc.PeerConnection) PeerLink {
	return &pionLink{pc: pc}
}

// localTrack is implemented by tracks that carry a pion TrackLocal
type localTrack interface {
	Local() webrtc.TrackLocal
}

func (l *pionLink) AddTrack(t Track) error {
	lt, ok := t.(localTrack)
	if !ok {
		return fmt.Errorf("track kind %s has no transport-level representation", t.Kind())
	}
	if _, err := l.pc.AddTrack(lt.Local()); err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	return nil
}

func (l *pionLink) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (l *pionLink) AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var remote webrtc.SessionDescription
	if err := json.Unmarshal(offer, &remote); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (l *pionLink) ApplyAnswer(answer json.RawMessage) error {
	var remote webrtc.SessionDescription
	if err := json.Unmarshal(answer, &remote); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (l *pionLink) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (l *pionLink) OnCandidate(fn func(json.RawMessage)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// end of gathering
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(b)
	})
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}
