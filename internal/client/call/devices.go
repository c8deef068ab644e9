package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// DeviceStack couples real device capture with the matching peer factory:
// the codec selector used to encode captured frames must also populate the
// MediaEngine of every PeerConnection it feeds.
type DeviceStack struct {
	selector *mediadevices.CodecSelector
	log      *zap.Logger
}

// NewDeviceStack builds the VP8+Opus codec stack
func NewDeviceStack(log *zap.Logger) (*DeviceStack, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceStack{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log,
	}, nil
}

// PeerFactory returns a factory producing PeerLinks whose MediaEngine knows
// the stack's codecs. Generous ICE timeouts so a brief NAT hiccup does not
// immediately terminate the call.
func (d *DeviceStack) PeerFactory(iceServers []webrtc.ICEServer) PeerFactory {
	return func() (PeerLink, error) {
		mediaEngine := &webrtc.MediaEngine{}
		d.selector.Populate(mediaEngine)

		interceptorRegistry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
			return nil, fmt.Errorf("register interceptors: %w", err)
		}

		se := webrtc.SettingEngine{}
		se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		)

		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return NewPionLink(pc), nil
	}
}

// Acquire captures local devices with graceful fallback. GetUserMedia fails
// as a unit if either requested track cannot be opened, so a video call
// tries video+audio, then video-only, then audio-only: a missing microphone
// does not prevent the camera from working and vice versa.
func (d *DeviceStack) Acquire(_ context.Context, video bool) ([]Track, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if video {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG node that
				// produces malformed frames and poisons the VP8 encoder
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			d.log.Warn("media capture attempt failed",
				zap.String("attempt", a.label),
				zap.Error(err))
			continue
		}

		raw := stream.GetTracks()
		tracks := make([]Track, 0, len(raw))
		for _, t := range raw {
			tracks = append(tracks, newDeviceTrack(t, d.log))
		}
		d.log.Info("local media captured",
			zap.String("attempt", a.label),
			zap.Int("tracks", len(tracks)))
		return tracks, nil
	}

	return nil, fmt.Errorf("all media capture attempts failed: %w", lastErr)
}

// deviceTrack wraps a captured mediadevices track. The enabled flag is a
// local optimistic indicator; capture keeps running while muted.
type deviceTrack struct {
	track mediadevices.Track
	log   *zap.Logger

	mu      sync.Mutex
	enabled bool
}

func newDeviceTrack(t mediadevices.Track, log *zap.Logger) *deviceTrack {
	dt := &deviceTrack{track: t, log: log, enabled: true}
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn("local track ended", zap.Error(err))
		}
	})
	return dt
}

func (t *deviceTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) Stop() error {
	return t.track.Close()
}

// Local exposes the transport-level track for pionLink.AddTrack
func (t *deviceTrack) Local() webrtc.TrackLocal {
	return t.track
}
