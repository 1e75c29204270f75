package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/adapters/signal"
	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrRateLimited   = errors.New("too many messages")
	ErrVoiceDisabled = errors.New("voice is disabled for this session")
	ErrNoSession     = errors.New("no session")
	ErrSessionType   = errors.New("invalid session type")
	ErrSessionEnded  = errors.New("session ended")
)

// Connection is the live duplex link to the mentor service.
type Connection interface {
	Send(msg protocol.Outbound) error
	Close() error
}

type DialFunc func(ctx context.Context, url string, h signal.Handler, onClose signal.CloseHandler) (Connection, error)

// AudioPlayer is the mentor voice output.
type AudioPlayer interface {
	app.AudioQueue
	Flush()
	Close() error
	SetMuted(bool)
	SetVolume(float64)
	Playing() bool
	Pending() int
}

type Options struct {
	WSURL       string
	User        domain.User
	ContextPage string
	Signal      signal.Options
}

// Deps are the collaborators of an Orchestrator. Nil optional fields get
// in-memory defaults.
type Deps struct {
	API       core.SessionAPI
	NewPlayer func() AudioPlayer
	Dial      DialFunc
	Board     app.AnnotationSink
	Video     core.VideoSink
	Capture   core.SpeechCapture
	Notify    app.Notifier
	Policy    app.Policy
	Limiter   *app.RateLimiter
	Users     *app.Registry
	Now       func() time.Time
}

// Orchestrator drives one mentoring session from creation to teardown.
type Orchestrator struct {
	Machine *lifecycle.Machine
	Chat    *app.ChatLog
	Roster  *app.Roster
	Users   *app.Registry

	api       core.SessionAPI
	newPlayer func() AudioPlayer
	dial      DialFunc
	capture   core.SpeechCapture
	notify    app.Notifier
	policy    app.Policy
	limiter   *app.RateLimiter
	now       func() time.Time
	opts      Options

	dispatcher *app.Dispatcher

	mu         sync.Mutex
	conn       Connection
	player     AudioPlayer
	muted      bool
	volume     float64
	transcript string
}

func New(opts Options, deps Deps) *Orchestrator {
	o := &Orchestrator{
		Machine:   lifecycle.New(),
		Chat:      app.NewChatLog(),
		Roster:    app.NewRoster(),
		Users:     deps.Users,
		api:       deps.API,
		newPlayer: deps.NewPlayer,
		dial:      deps.Dial,
		capture:   deps.Capture,
		notify:    deps.Notify,
		policy:    deps.Policy,
		limiter:   deps.Limiter,
		now:       deps.Now,
		opts:      opts,
		volume:    1,
	}
	if o.Users == nil {
		o.Users = app.NewRegistry()
	}
	if o.dial == nil {
		sigOpts := opts.Signal
		o.dial = func(ctx context.Context, url string, h signal.Handler, onClose signal.CloseHandler) (Connection, error) {
			return signal.Dial(ctx, url, h, onClose, sigOpts)
		}
	}
	if o.policy == nil {
		o.policy = app.SimplePolicy{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	o.dispatcher = &app.Dispatcher{
		Machine: o.Machine,
		Audio:   playerQueue{o},
		Video:   deps.Video,
		Chat:    o.Chat,
		Roster:  o.Roster,
		Board:   deps.Board,
		Capture: deps.Capture,
		Notify:  o,
		Now:     o.now,
	}

	if o.capture != nil {
		o.capture.OnAudio(o.forwardAudio)
		o.capture.OnTranscript(func(text string) {
			o.mu.Lock()
			o.transcript = text
			o.mu.Unlock()
		})
	}

	o.Machine.Subscribe(func(tr lifecycle.Transition) {
		data := map[string]any{"from": tr.From.String(), "to": tr.To.String()}
		if tr.Err != nil {
			data["error"] = tr.Err.Error()
		}
		o.Notify(app.Event{Kind: app.EventState, Data: data})
	})
	return o
}

// Notify forwards events to the configured notifier.
func (o *Orchestrator) Notify(e app.Event) {
	if o.notify != nil {
		o.notify.Notify(e)
	}
}

// Snapshot is a read-only view of the client.
type Snapshot struct {
	State        string               `json:"state"`
	Session      *domain.Session      `json:"session,omitempty"`
	Flags        lifecycle.Flags      `json:"flags"`
	Participants []domain.Participant `json:"participants"`
	Avatar       domain.AvatarState   `json:"avatar"`
	Messages     int                  `json:"messages"`
	Muted        bool                 `json:"muted"`
	Volume       float64              `json:"volume"`
	AudioPlaying bool                 `json:"audioPlaying"`
	AudioPending int                  `json:"audioPending"`
	Transcript   string               `json:"transcript,omitempty"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		Muted:      o.muted,
		Volume:     o.volume,
		Transcript: o.transcript,
	}
	if o.player != nil {
		s.AudioPlaying = o.player.Playing()
		s.AudioPending = o.player.Pending()
	}
	o.mu.Unlock()

	s.State = o.Machine.State().String()
	s.Session = o.Machine.Session()
	s.Flags = o.Machine.Flags()
	s.Participants = o.Roster.Snapshot()
	s.Avatar = o.dispatcher.Avatar()
	s.Messages = o.Chat.Len()
	return s
}

// send applies the backpressure policy. A Disconnect decision tears the
// connection down on its own goroutine, since Conn.Close waits for the
// dispatch in progress and send may run inside one.
func (o *Orchestrator) send(msg protocol.Outbound) error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return &core.NotConnectedError{Op: protocol.TypeOf(msg)}
	}

	err := conn.Send(msg)
	if !errors.Is(err, core.ErrBackpressure) {
		return err
	}
	switch o.policy.OnBackpressure(msg) {
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("type", protocol.TypeOf(msg)).Msg("dropped under backpressure")
		return nil
	case app.Disconnect:
		go o.connectionLost(&core.ConnectionError{Unexpected: true, Err: err})
		return err
	case app.FailSend:
	}
	return err
}

// playerQueue routes dispatcher audio to whichever player is current.
type playerQueue struct{ o *Orchestrator }

func (q playerQueue) Enqueue(fragment []byte) error {
	q.o.mu.Lock()
	p := q.o.player
	q.o.mu.Unlock()
	if p == nil {
		return core.ErrClosed
	}
	return p.Enqueue(fragment)
}
