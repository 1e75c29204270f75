package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

type CreateParams struct {
	Type        domain.SessionType
	ContextPage string
	Config      domain.SessionConfig
}

// Create asks the service for a session and connects to it. A remote
// failure returns *core.SessionCreationError and leaves the client Idle.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*domain.Session, error) {
	if p.Type == "" {
		p.Type = p.Config.SessionType
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w %q", ErrSessionType, p.Type)
	}
	p.Config.SessionType = p.Type
	if p.ContextPage == "" {
		p.ContextPage = o.opts.ContextPage
	}

	if err := o.Machine.BeginCreate(); err != nil {
		return nil, err
	}
	o.Roster.Reset()

	sess, err := o.api.CreateSession(ctx, core.CreateSessionRequest{
		SessionType: p.Type,
		ContextPage: p.ContextPage,
		Config:      p.Config,
	})
	if err != nil {
		cerr := &core.SessionCreationError{Err: err}
		log.Error().Err(err).Str("module", "orch").Msg("create session failed")
		_ = o.Machine.CreateFailed(cerr)
		return nil, cerr
	}
	sess.Config = p.Config
	if err := o.Machine.Created(sess); err != nil {
		if o.Machine.State() == lifecycle.Ended {
			// ended while the record was being created
			o.endRemote(ctx, sess.ID)
			return nil, ErrSessionEnded
		}
		return nil, err
	}
	log.Info().Str("module", "orch").Str("session", string(sess.ID)).Str("type", string(p.Type)).Msg("session created")

	if err := o.connect(ctx, sess); err != nil {
		return o.Machine.Session(), err
	}
	return o.Machine.Session(), nil
}

// connect opens the duplex link, sends the join request and marks the
// session live. The audio pipeline exists only while connected.
func (o *Orchestrator) connect(ctx context.Context, sess *domain.Session) error {
	if o.newPlayer != nil {
		player := o.newPlayer()
		o.mu.Lock()
		if o.Machine.State() != lifecycle.Connecting {
			o.mu.Unlock()
			_ = player.Close()
			return ErrSessionEnded
		}
		player.SetMuted(o.muted)
		player.SetVolume(o.volume)
		o.player = player
		o.mu.Unlock()
	}

	conn, err := o.dial(ctx, o.opts.WSURL, o.dispatcher.Handle, o.connectionLost)
	if err != nil {
		o.teardownMedia()
		_ = o.Machine.MarkDisconnected(err)
		return err
	}
	// End may have run during the dial; it found no connection to close.
	// End moves the machine before taking o.mu, so one side always closes conn.
	o.mu.Lock()
	if o.Machine.State() != lifecycle.Connecting {
		o.mu.Unlock()
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("late connection close")
		}
		o.teardownMedia()
		return ErrSessionEnded
	}
	o.conn = conn
	o.mu.Unlock()

	join := protocol.JoinSession{SessionID: sess.ID, UserID: o.opts.User.ID, Config: sess.Config}
	if err := conn.Send(join); err != nil {
		o.teardownMedia()
		_ = o.Machine.MarkDisconnected(err)
		return err
	}
	return o.MarkLive()
}

// MarkLive records that the join went out on an open connection.
func (o *Orchestrator) MarkLive() error {
	if err := o.Machine.MarkLive(); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Msg("session live")
	return nil
}

// connectionLost handles a dropped connection: the audio pipeline goes
// away and the session waits in Disconnected.
func (o *Orchestrator) connectionLost(err error) {
	log.Warn().Err(err).Str("module", "orch").Msg("connection lost")
	o.teardownMedia()
	_ = o.Machine.MarkDisconnected(err)
}

// teardownMedia closes the connection, the player and the microphone.
func (o *Orchestrator) teardownMedia() {
	o.mu.Lock()
	conn, player := o.conn, o.player
	o.conn, o.player = nil, nil
	o.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("connection close")
		}
	}
	if player != nil {
		if err := player.Close(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("player close")
		}
	}
	if o.capture != nil {
		if err := o.capture.StopCapture(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("stop capture")
		}
	}
	o.Machine.SetListening(false)
}

// End tears the session down. The remote end call is best effort: its
// failure is logged as *core.SessionTeardownError and never blocks local
// cleanup. Ending twice is a no-op.
func (o *Orchestrator) End(ctx context.Context) error {
	if o.Machine.State() == lifecycle.Ended {
		return nil
	}
	// Ended first: a connect still in flight sees it and backs out.
	sess := o.Machine.Session()
	if err := o.Machine.End(); err != nil {
		return err
	}
	o.teardownMedia()
	if sess != nil {
		o.endRemote(ctx, sess.ID)
	}
	return nil
}

func (o *Orchestrator) endRemote(ctx context.Context, id domain.SessionID) {
	if o.api == nil {
		return
	}
	if err := o.api.EndSession(ctx, id); err != nil {
		terr := &core.SessionTeardownError{SessionID: string(id), Err: err}
		log.Warn().Err(terr).Str("module", "orch").Msg("remote end failed")
	}
}

// StartBroadcast starts the external YouTube stream. Its URL arrives later
// as a stream-started message.
func (o *Orchestrator) StartBroadcast(ctx context.Context) error {
	sess := o.Machine.Session()
	if sess == nil {
		return ErrNoSession
	}
	if o.Machine.State() != lifecycle.Live {
		return &core.NotConnectedError{Op: "broadcast"}
	}

	kind := "Group Learning"
	if sess.Type == domain.SessionPrivate {
		kind = "Private Session"
	}
	err := o.api.StartBroadcast(ctx, core.BroadcastRequest{
		SessionID:   sess.ID,
		Title:       "GEOVA Live Mentor - " + kind,
		Description: "Live AI-powered geospatial technology mentoring session with GEOVA",
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("start broadcast failed")
		return err
	}
	o.Machine.UpdateSession(func(s *domain.Session) { s.Config.YouTubeStreamEnabled = true })
	log.Info().Str("module", "orch").Str("session", string(sess.ID)).Msg("broadcast started")
	return nil
}
