package sfu

import "sync/atomic"

// TrackState is the delivery state of one viewer feed.
type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// FrameWriter is the viewer side of a feed, typically a WebRTC data channel.
type FrameWriter interface {
	Send(data []byte) error
}

// OutTrack is the avatar feed of a single viewer.
type OutTrack struct {
	Writer FrameWriter
	state  atomic.Int32
	sent   atomic.Uint64
}

func NewOutTrack(w FrameWriter) *OutTrack {
	return &OutTrack{Writer: w}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk()     { ot.state.Store(int32(TrackStateOk)) }
func (ot *OutTrack) MarkMuted()  { ot.state.Store(int32(TrackStateMuted)) }
func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(TrackStateDelete)) }

// Deliver writes one frame and counts it on success.
func (ot *OutTrack) Deliver(frame []byte) error {
	if err := ot.Writer.Send(frame); err != nil {
		return err
	}
	ot.sent.Add(1)
	return nil
}

// Sent is the number of frames delivered to this viewer.
func (ot *OutTrack) Sent() uint64 { return ot.sent.Load() }
