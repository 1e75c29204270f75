// Package sfu fans the mentor avatar feed out to local viewers.
package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/core"
)

type ViewerID string

const defaultRelayBuffer = 16

// Relay copies avatar frames to every attached viewer. It implements
// core.VideoSink; PushFrame never blocks and drops frames when viewers lag.
type Relay struct {
	frames chan []byte
	logger zerolog.Logger

	mu        sync.RWMutex
	outTracks map[ViewerID]*OutTrack

	dropped atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ core.VideoSink = (*Relay)(nil)

// NewRelay starts the forwarding loop. It stops when ctx is done or Stop is called.
func NewRelay(ctx context.Context, buffer int) *Relay {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		frames:    make(chan []byte, buffer),
		logger:    log.With().Str("module", "relay").Logger(),
		outTracks: make(map[ViewerID]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go r.loop(ctx)
	return r
}

func (r *Relay) PushFrame(frame []byte) error {
	select {
	case r.frames <- frame:
		return nil
	default:
		r.dropped.Add(1)
		return core.ErrBackpressure
	}
}

// loop reads frames and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		case frame := <-r.frames:
			r.forward(frame)
		}
	}
}

func (r *Relay) forward(frame []byte) {
	r.mu.RLock()
	snapshot := make(map[ViewerID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]ViewerID, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, id)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Deliver(frame); err != nil {
				r.logger.Error().
					Err(err).
					Str("viewer", string(id)).
					Msg("relay write error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []ViewerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddViewer(id ViewerID, w FrameWriter) *OutTrack {
	ot := NewOutTrack(w)
	r.mu.Lock()
	if old, ok := r.outTracks[id]; ok {
		old.MarkDelete()
	}
	r.outTracks[id] = ot
	r.mu.Unlock()
	r.logger.Info().Str("viewer", string(id)).Msg("viewer attached")
	return ot
}

// MarkViewerDelete detaches a viewer; it is removed on the next frame.
func (r *Relay) MarkViewerDelete(id ViewerID) {
	r.mu.RLock()
	ot, ok := r.outTracks[id]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

// SetMuted pauses or resumes delivery to every viewer.
func (r *Relay) SetMuted(muted bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		if ot.GetState() == TrackStateDelete {
			continue
		}
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

// Viewers counts attached viewers that are not marked for delete.
func (r *Relay) Viewers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.GetState() != TrackStateDelete {
			n++
		}
	}
	return n
}

func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Stop ends the loop and waits for it.
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
}
