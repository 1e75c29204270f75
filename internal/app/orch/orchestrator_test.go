package orch

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/mentor/internal/adapters/signal"
	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/audio"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

type fakeAPI struct {
	// createEntered is closed when CreateSession starts; createGate holds it.
	createEntered chan struct{}
	createGate    chan struct{}

	mu         sync.Mutex
	createErr  error
	endErr     error
	created    []core.CreateSessionRequest
	ended      []domain.SessionID
	broadcasts []core.BroadcastRequest
}

func (a *fakeAPI) CreateSession(_ context.Context, req core.CreateSessionRequest) (*domain.Session, error) {
	if a.createEntered != nil {
		close(a.createEntered)
	}
	if a.createGate != nil {
		<-a.createGate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, req)
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &domain.Session{ID: "sess-1", Type: req.SessionType, Status: domain.StatusStarting, ParticipantCount: 1}, nil
}

func (a *fakeAPI) endedIDs() []domain.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SessionID(nil), a.ended...)
}

func (a *fakeAPI) EndSession(_ context.Context, id domain.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ended = append(a.ended, id)
	return a.endErr
}

func (a *fakeAPI) StartBroadcast(_ context.Context, req core.BroadcastRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcasts = append(a.broadcasts, req)
	return nil
}

type fakePlayer struct {
	mu        sync.Mutex
	fragments [][]byte
	closed    bool
	muted     bool
	volume    float64
}

func (p *fakePlayer) Enqueue(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrClosed
	}
	p.fragments = append(p.fragments, b)
	return nil
}
func (p *fakePlayer) Flush() {}
func (p *fakePlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
func (p *fakePlayer) SetMuted(m bool)     { p.mu.Lock(); p.muted = m; p.mu.Unlock() }
func (p *fakePlayer) SetVolume(v float64) { p.mu.Lock(); p.volume = v; p.mu.Unlock() }
func (p *fakePlayer) Playing() bool       { return false }
func (p *fakePlayer) Pending() int        { return 0 }

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fragments)
}

type fakeCapture struct {
	mu       sync.Mutex
	started  bool
	onAudio  func([]byte)
	onText   func(string)
	startErr error
}

func (c *fakeCapture) StartCapture(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = c.startErr == nil
	return c.startErr
}
func (c *fakeCapture) StopCapture() error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}
func (c *fakeCapture) OnAudio(fn func([]byte))        { c.onAudio = fn }
func (c *fakeCapture) OnTranscript(fn func(string))   { c.onText = fn }
func (c *fakeCapture) DeliverTranscript(text string) { c.onText(text) }

func (c *fakeCapture) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// fakeService is a scripted mentor service on a real websocket.
type fakeService struct {
	url      string
	received chan map[string]any
	outbound chan any
	close    func()
}

var dropConnection = struct{}{}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	s := &fakeService{received: make(chan map[string]any, 64), outbound: make(chan any, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var m map[string]any
				if err := conn.ReadJSON(&m); err != nil {
					return
				}
				s.received <- m
			}
		}()
		for {
			select {
			case msg := <-s.outbound:
				if msg == dropConnection {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	s.url = "ws" + strings.TrimPrefix(server.URL, "http")
	s.close = server.Close
	t.Cleanup(server.Close)
	return s
}

func (s *fakeService) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	for {
		select {
		case m := <-s.received:
			if m["type"] == typ {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("service never received %s", typ)
			return nil
		}
	}
}

type harness struct {
	orch    *Orchestrator
	api     *fakeAPI
	svc     *fakeService
	capture *fakeCapture
	events  *eventLog

	mu      sync.Mutex
	players []*fakePlayer
}

type eventLog struct {
	mu     sync.Mutex
	events []app.Event
}

func (l *eventLog) Notify(e app.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (h *harness) player() *fakePlayer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.players) == 0 {
		return nil
	}
	return h.players[len(h.players)-1]
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test replace collaborators before New runs.
func newHarnessWith(t *testing.T, adjust func(*Deps)) *harness {
	t.Helper()
	h := &harness{api: &fakeAPI{}, svc: newFakeService(t), capture: &fakeCapture{}, events: &eventLog{}}
	deps := Deps{
		API: h.api,
		NewPlayer: func() AudioPlayer {
			p := &fakePlayer{}
			h.mu.Lock()
			h.players = append(h.players, p)
			h.mu.Unlock()
			return p
		},
		Capture: h.capture,
		Notify:  h.events,
		Limiter: app.NewRateLimiter(3, time.Minute),
	}
	if adjust != nil {
		adjust(&deps)
	}
	h.orch = New(Options{
		WSURL:       h.svc.url,
		User:        domain.User{ID: "student-1", Name: "Ada"},
		ContextPage: "/learn",
	}, deps)
	t.Cleanup(func() { _ = h.orch.End(context.Background()) })
	return h
}

func (h *harness) createLive(t *testing.T, typ domain.SessionType) {
	t.Helper()
	sess, err := h.orch.Create(context.Background(), CreateParams{Type: typ, Config: domain.DefaultSessionConfig(typ)})
	require.NoError(t, err)
	require.Equal(t, domain.SessionID("sess-1"), sess.ID)
	require.Equal(t, lifecycle.Live, h.orch.Machine.State())
}

func TestCreate_JoinsAndGoesLive(t *testing.T) {
	h := newHarness(t)
	h.createLive(t, domain.SessionGroup)

	join := h.svc.expect(t, "geova.join_session")
	assert.Equal(t, "sess-1", join["sessionId"])
	assert.Equal(t, "student-1", join["userId"])
	cfg := join["config"].(map[string]any)
	assert.Equal(t, "group", cfg["sessionType"])
	assert.Equal(t, true, cfg["whiteboardEnabled"])

	require.Len(t, h.api.created, 1)
	assert.Equal(t, "/learn", h.api.created[0].ContextPage)
	assert.Equal(t, domain.StatusLive, h.orch.Machine.Session().Status)

	pcm := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	h.svc.outbound <- map[string]any{"type": "response.audio.delta", "delta": pcm}
	h.svc.outbound <- map[string]any{"type": "response.text.delta", "delta": "Welcome!"}
	h.svc.outbound <- map[string]any{"type": "session.participant_joined", "participant": map[string]any{"id": "p2", "name": "Bo"}}

	require.Eventually(t, func() bool {
		return h.player().count() == 1 && h.orch.Chat.Len() == 1 && h.orch.Roster.Count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.MentorName, h.orch.Chat.Entries()[0].Sender)
	assert.True(t, h.orch.Machine.Flags().Speaking)
	assert.Equal(t, 2, h.orch.Snapshot().Session.ParticipantCount)
}

func TestCreate_RemoteFailureRetainsNothing(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = errors.New("function error")

	sess, err := h.orch.Create(context.Background(), CreateParams{Type: domain.SessionPrivate})
	assert.Nil(t, sess)
	var cerr *core.SessionCreationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, lifecycle.Idle, h.orch.Machine.State())
	assert.Nil(t, h.orch.Machine.Session())
	assert.Nil(t, h.player(), "no audio pipeline before a session exists")
}

func TestCreate_DialFailureLeavesDisconnected(t *testing.T) {
	h := newHarness(t)
	h.orch.opts.WSURL = "ws://127.0.0.1:1/nowhere"

	_, err := h.orch.Create(context.Background(), CreateParams{Type: domain.SessionPrivate})
	var connErr *core.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, lifecycle.Disconnected, h.orch.Machine.State())
	assert.True(t, h.player().isClosed())
}

func TestCreate_RejectsInvalidType(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Create(context.Background(), CreateParams{Type: "public"})
	assert.ErrorIs(t, err, ErrSessionType)
	assert.Equal(t, lifecycle.Idle, h.orch.Machine.State())
}

func TestSendChat(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.SendChat("student-1", "hello")
	var nc *core.NotConnectedError
	require.ErrorAs(t, err, &nc, "not live yet")

	h.createLive(t, domain.SessionPrivate)
	h.svc.expect(t, "geova.join_session")

	entry, err := h.orch.SendChat("student-1", "What is a raster?")
	require.NoError(t, err)
	assert.True(t, entry.IsQuestion)
	assert.Equal(t, app.DefaultUsername, entry.Sender)
	got := h.svc.expect(t, "student.message")
	assert.Equal(t, "What is a raster?", got["message"])
	assert.Equal(t, true, got["isQuestion"])
	assert.Equal(t, false, got["handRaised"])

	h.orch.RaiseHand(true)
	entry, err = h.orch.SendChat("student-1", "I have a follow-up.")
	require.NoError(t, err)
	assert.True(t, entry.IsQuestion, "raised hand makes it a question")
	got = h.svc.expect(t, "student.message")
	assert.Equal(t, true, got["handRaised"])
	assert.False(t, h.orch.Machine.Flags().HandRaised, "hand lowered after send")

	_, err = h.orch.SendChat("student-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.orch.SendChat("student-1", "third")
	require.NoError(t, err)
	_, err = h.orch.SendChat("student-1", "fourth")
	assert.ErrorIs(t, err, ErrRateLimited)

	assert.Equal(t, 3, h.orch.Chat.Len())
}

func TestUnexpectedCloseDisconnects(t *testing.T) {
	h := newHarness(t)
	h.createLive(t, domain.SessionPrivate)
	h.svc.expect(t, "geova.join_session")
	require.NoError(t, h.orch.StartSpeaking(context.Background()))

	h.svc.outbound <- dropConnection

	require.Eventually(t, func() bool {
		return h.orch.Machine.State() == lifecycle.Disconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.player().isClosed())
	assert.False(t, h.capture.isStarted())
	assert.Equal(t, lifecycle.Flags{}, h.orch.Machine.Flags())
	assert.Equal(t, domain.StatusLive, h.orch.Machine.Session().Status)

	_, err := h.orch.SendChat("student-1", "anyone?")
	var nc *core.NotConnectedError
	assert.ErrorAs(t, err, &nc)

	require.NoError(t, h.orch.End(context.Background()))
	assert.Equal(t, lifecycle.Ended, h.orch.Machine.State())
}

func TestEnd_TearsDownEvenWhenRemoteFails(t *testing.T) {
	h := newHarness(t)
	h.createLive(t, domain.SessionPrivate)
	h.svc.expect(t, "geova.join_session")
	h.api.endErr = errors.New("timeout")

	require.NoError(t, h.orch.End(context.Background()))
	require.NoError(t, h.orch.End(context.Background()))

	assert.Equal(t, lifecycle.Ended, h.orch.Machine.State())
	assert.Equal(t, domain.StatusEnded, h.orch.Machine.Session().Status)
	assert.True(t, h.player().isClosed())
	assert.Equal(t, []domain.SessionID{"sess-1"}, h.api.endedIDs())

	_, err := h.orch.SendChat("student-1", "still there?")
	assert.Error(t, err)
}

func TestSpeakingForwardsMicrophone(t *testing.T) {
	h := newHarness(t)
	h.createLive(t, domain.SessionPrivate)
	h.svc.expect(t, "geova.join_session")

	h.capture.onAudio([]byte{9, 9}) // not listening yet: dropped

	listening, err := h.orch.ToggleSpeaking(context.Background())
	require.NoError(t, err)
	assert.True(t, listening)
	h.svc.expect(t, "student.start_speaking")
	assert.True(t, h.capture.isStarted())

	h.capture.onAudio([]byte{1, 2, 3, 4})
	chunk := h.svc.expect(t, "student.audio_chunk")
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}), chunk["audioChunk"])

	listening, err = h.orch.ToggleSpeaking(context.Background())
	require.NoError(t, err)
	assert.False(t, listening)
	h.svc.expect(t, "student.stop_speaking")
	assert.False(t, h.capture.isStarted())

	h.capture.DeliverTranscript("raster vs vector")
	assert.Equal(t, "raster vs vector", h.orch.Snapshot().Transcript)
}

func TestStartSpeaking_VoiceDisabled(t *testing.T) {
	h := newHarness(t)
	cfg := domain.DefaultSessionConfig(domain.SessionPrivate)
	cfg.VoiceEnabled = false
	_, err := h.orch.Create(context.Background(), CreateParams{Type: domain.SessionPrivate, Config: cfg})
	require.NoError(t, err)

	assert.ErrorIs(t, h.orch.StartSpeaking(context.Background()), ErrVoiceDisabled)
	assert.False(t, h.orch.Machine.Flags().Listening)
}

func TestAudioControlsPersistAcrossPlayers(t *testing.T) {
	h := newHarness(t)
	h.orch.SetMuted(true)
	h.orch.SetVolume(0.4)
	h.createLive(t, domain.SessionPrivate)

	p := h.player()
	p.mu.Lock()
	assert.True(t, p.muted)
	assert.Equal(t, 0.4, p.volume)
	p.mu.Unlock()

	h.orch.SetVolume(7)
	snap := h.orch.Snapshot()
	assert.Equal(t, 1.0, snap.Volume)
	assert.True(t, snap.Muted)
}

func TestToggleAvatarAndBroadcast(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.ToggleAvatar()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, h.orch.StartBroadcast(context.Background()), ErrNoSession)

	h.createLive(t, domain.SessionPrivate)
	enabled, err := h.orch.ToggleAvatar()
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, h.orch.Machine.Session().Config.AvatarEnabled)

	require.NoError(t, h.orch.StartBroadcast(context.Background()))
	require.Len(t, h.api.broadcasts, 1)
	assert.Equal(t, "GEOVA Live Mentor - Private Session", h.api.broadcasts[0].Title)
	assert.True(t, h.orch.Machine.Session().Config.YouTubeStreamEnabled)

	h.svc.outbound <- map[string]any{"type": "youtube.stream_started", "streamUrl": "https://youtu.be/x"}
	require.Eventually(t, func() bool {
		return h.orch.Machine.Session().StreamURL == "https://youtu.be/x"
	}, 2*time.Second, 5*time.Millisecond)
}

// stubConn stands in for the signal connection. closeGate, when set, holds
// Close the way a real connection waits for the dispatch in progress.
type stubConn struct {
	sendErr   error
	closeGate chan struct{}
	closed    atomic.Bool
}

func (c *stubConn) Send(protocol.Outbound) error { return c.sendErr }

func (c *stubConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.closed.Store(true)
	return nil
}

func TestEnd_DuringDialClosesLateConnection(t *testing.T) {
	conn := &stubConn{}
	dialing := make(chan struct{})
	release := make(chan struct{})
	var handler signal.Handler
	h := newHarnessWith(t, func(d *Deps) {
		d.Dial = func(_ context.Context, _ string, hd signal.Handler, _ signal.CloseHandler) (Connection, error) {
			handler = hd
			close(dialing)
			<-release
			return conn, nil
		}
	})

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Create(context.Background(), CreateParams{Type: domain.SessionPrivate})
		errc <- err
	}()
	<-dialing
	require.NoError(t, h.orch.End(context.Background()))
	close(release)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("Create did not return")
	}
	assert.True(t, conn.closed.Load(), "connection opened after End is closed")
	assert.True(t, h.player().isClosed())
	assert.Equal(t, lifecycle.Ended, h.orch.Machine.State())
	assert.Equal(t, []domain.SessionID{"sess-1"}, h.api.endedIDs())

	handler(protocol.TextDelta{Delta: "late"})
	assert.Zero(t, h.orch.Chat.Len())
}

func TestEnd_DuringCreateEndsRemoteRecord(t *testing.T) {
	dialed := false
	h := newHarnessWith(t, func(d *Deps) {
		d.Dial = func(context.Context, string, signal.Handler, signal.CloseHandler) (Connection, error) {
			dialed = true
			return &stubConn{}, nil
		}
	})
	h.api.createEntered = make(chan struct{})
	h.api.createGate = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Create(context.Background(), CreateParams{Type: domain.SessionGroup})
		errc <- err
	}()
	<-h.api.createEntered
	require.NoError(t, h.orch.End(context.Background()))
	close(h.api.createGate)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("Create did not return")
	}
	assert.Equal(t, lifecycle.Ended, h.orch.Machine.State())
	assert.Equal(t, []domain.SessionID{"sess-1"}, h.api.endedIDs())
	assert.False(t, dialed)
	assert.Nil(t, h.player())
}

type disconnectPolicy struct{}

func (disconnectPolicy) OnBackpressure(protocol.Outbound) app.BackpressureAction { return app.Disconnect }

func TestBackpressureDisconnectDoesNotWaitOnCaller(t *testing.T) {
	dispatchDone := make(chan struct{})
	conn := &stubConn{closeGate: dispatchDone}
	h := newHarnessWith(t, func(d *Deps) {
		d.Policy = disconnectPolicy{}
		d.Dial = func(context.Context, string, signal.Handler, signal.CloseHandler) (Connection, error) {
			return conn, nil
		}
	})
	h.createLive(t, domain.SessionPrivate)
	conn.sendErr = core.ErrBackpressure

	// as if inside a dispatch: Close cannot finish until this returns
	sent := make(chan error, 1)
	go func() { sent <- h.orch.send(protocol.StopSpeaking{}) }()
	select {
	case err := <-sent:
		assert.ErrorIs(t, err, core.ErrBackpressure)
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on connection close")
	}
	close(dispatchDone)

	require.Eventually(t, func() bool {
		return h.orch.Machine.State() == lifecycle.Disconnected && conn.closed.Load()
	}, 2*time.Second, 5*time.Millisecond)
}

// gatedSink holds the first fragment until release is closed.
type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	played []int16
}

func (s *gatedSink) Play(ctx context.Context, buf *core.PCMBuffer) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.played = append(s.played, buf.Samples[0])
	s.mu.Unlock()
	return nil
}

func (s *gatedSink) Close() error { return nil }

func (s *gatedSink) order() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.played...)
}

func TestMentorAudioPlaysOnAfterResponseDone(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	var player *audio.Player
	h := newHarnessWith(t, func(d *Deps) {
		d.NewPlayer = func() AudioPlayer {
			player = audio.NewPlayer(audio.WAVDecoder{}, sink, audio.Options{})
			return player
		}
	})
	h.createLive(t, domain.SessionPrivate)
	h.svc.expect(t, "geova.join_session")

	for _, pcm := range [][]byte{{1, 0}, {2, 0}, {3, 0}} {
		h.svc.outbound <- map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)}
	}
	h.svc.outbound <- map[string]any{"type": "response.audio.done"}

	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first fragment never reached the sink")
	}
	// B and C queued and the done message handled after them
	require.Eventually(t, func() bool {
		return player.Pending() == 2 && !h.orch.Machine.Flags().Speaking
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, player.Playing())
	assert.Empty(t, sink.order())

	close(sink.release)
	require.Eventually(t, func() bool { return len(sink.order()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int16{1, 2, 3}, sink.order())
	assert.Zero(t, player.Pending())
}
