// Package rtc serves the mentor avatar feed to local WebRTC viewers.
package rtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/app/sfu"
)

// AvatarChannel is the data channel label viewers must open.
const AvatarChannel = "avatar"

var ErrViewerClosed = errors.New("viewer connection closed")

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

// ViewerConnection is one browser watching the avatar. The browser offers
// an "avatar" data channel; frames are sent on it as binary messages.
type ViewerConnection struct {
	pc *webrtc.PeerConnection
	id sfu.ViewerID

	dc     atomic.Pointer[webrtc.DataChannel]
	closed atomic.Bool

	mu       sync.Mutex
	onClosed func()
	once     sync.Once
}

var _ sfu.FrameWriter = (*ViewerConnection)(nil)

// NewViewerConnection builds the peer connection. api may be nil.
func NewViewerConnection(api *webrtc.API, cfg webrtc.Configuration, id sfu.ViewerID) (*ViewerConnection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}
	c := &ViewerConnection{pc: pc, id: id}
	c.start()
	return c, nil
}

func (c *ViewerConnection) start() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("viewer", string(c.id)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if (s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed) && !c.closed.Load() {
			c.Close()
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != AvatarChannel {
			log.Warn().Str("module", "webrtc").Str("viewer", string(c.id)).Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		dc.OnOpen(func() {
			c.dc.Store(dc)
			log.Info().Str("module", "webrtc").Str("viewer", string(c.id)).Msg("avatar channel open")
		})
		dc.OnClose(func() {
			if !c.closed.Load() {
				c.Close()
			}
		})
	})
}

func (c *ViewerConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

// Ready reports whether frames are being delivered.
func (c *ViewerConnection) Ready() bool {
	return c.dc.Load() != nil && !c.closed.Load()
}

// Send delivers one frame. Frames before the channel opens are skipped.
func (c *ViewerConnection) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrViewerClosed
	}
	dc := c.dc.Load()
	if dc == nil {
		return nil
	}
	return dc.Send(frame)
}

// OnClosed sets application-level callback for cleanup.
func (c *ViewerConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *ViewerConnection) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("viewer", string(c.id)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("viewer", string(c.id)).Msg("closed")
		}
		c.mu.Lock()
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
