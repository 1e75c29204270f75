package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/core"
)

// ErrPersistentDecodeFailure is reported once when decode keeps failing.
var ErrPersistentDecodeFailure = errors.New("audio decode failing persistently")

const defaultDecodeFailureThreshold = 5

type Options struct {
	// DecodeFailureThreshold is how many consecutive failures count as persistent.
	DecodeFailureThreshold int
	// OnError receives fragment-level errors. It runs on the playback
	// goroutine and must not call Close.
	OnError func(error)
	Muted   bool
	Volume  float64
}

type queued struct {
	pcm []byte
	gen uint64
	seq int
	ctx context.Context
}

// Player plays PCM fragments strictly one after another, in enqueue order.
// A single consumer goroutine owns decode and playback.
type Player struct {
	decoder   core.Decoder
	sink      core.AudioSink
	onError   func(error)
	threshold int
	logger    zerolog.Logger

	muted  atomic.Bool
	volume atomic.Uint64 // math.Float64bits

	mu       sync.Mutex
	queue    [][]byte
	playing  bool
	closed   bool
	gen      uint64
	seq      int
	playCtx  context.Context
	playStop context.CancelFunc
	failures int
	degraded bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewPlayer(decoder core.Decoder, sink core.AudioSink, opts Options) *Player {
	if opts.DecodeFailureThreshold <= 0 {
		opts.DecodeFailureThreshold = defaultDecodeFailureThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	playCtx, playStop := context.WithCancel(ctx)
	p := &Player{
		decoder:   decoder,
		sink:      sink,
		onError:   opts.OnError,
		threshold: opts.DecodeFailureThreshold,
		logger:    log.With().Str("module", "audio.player").Logger(),
		playCtx:   playCtx,
		playStop:  playStop,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.muted.Store(opts.Muted)
	vol := opts.Volume
	if vol == 0 && !opts.Muted {
		vol = 1
	}
	p.SetVolume(vol)
	go p.run()
	return p
}

// Enqueue appends a fragment. It never blocks on playback.
func (p *Player) Enqueue(fragment []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return core.ErrClosed
	}
	p.queue = append(p.queue, fragment)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush drops queued fragments and aborts the one in flight.
// The output device stays open.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	dropped := len(p.queue)
	p.queue = nil
	p.gen++
	p.playStop()
	p.playCtx, p.playStop = context.WithCancel(p.ctx)
	p.logger.Debug().Int("dropped", dropped).Msg("flushed")
}

// Close discards everything, waits for the consumer to stop and releases
// the sink. Nothing is audible once it returns. Safe to call repeatedly.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.gen++
		p.playStop()
		p.mu.Unlock()

		p.cancel()
		<-p.done
		if p.sink != nil {
			p.closeErr = p.sink.Close()
		}
		p.logger.Info().Msg("closed")
	})
	return p.closeErr
}

func (p *Player) SetMuted(m bool) { p.muted.Store(m) }

func (p *Player) Muted() bool { return p.muted.Load() }

// SetVolume clamps v to [0,1].
func (p *Player) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume.Store(math.Float64bits(v))
}

func (p *Player) Volume() float64 { return math.Float64frombits(p.volume.Load()) }

// Gain is the multiplier applied to the next fragment that starts playing.
func (p *Player) Gain() float64 {
	if p.Muted() {
		return 0
	}
	return p.Volume()
}

// Playing reports whether a fragment is being decoded or played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Pending is the number of fragments waiting behind the one in flight.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Degraded reports persistent decode failure.
func (p *Player) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Player) run() {
	defer close(p.done)
	for {
		item, ok := p.next()
		if !ok {
			return
		}
		p.playOne(item)
	}
}

func (p *Player) next() (queued, bool) {
	for {
		p.mu.Lock()
		if p.closed {
			p.playing = false
			p.mu.Unlock()
			return queued{}, false
		}
		if len(p.queue) > 0 {
			pcm := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.playing = true
			p.seq++
			item := queued{pcm: pcm, gen: p.gen, seq: p.seq, ctx: p.playCtx}
			p.mu.Unlock()
			return item, true
		}
		p.playing = false
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return queued{}, false
		}
	}
}

func (p *Player) playOne(item queued) {
	buf, err := p.decoder.Decode(item.ctx, FramePCM(item.pcm))
	if !p.current(item.gen) {
		p.logger.Debug().Int("fragment", item.seq).Msg("discarding fragment decoded after reset")
		return
	}
	if err != nil {
		p.decodeFailed(item.seq, err)
		return
	}
	p.decodeOK()

	applyGain(buf, p.Gain())
	if err := p.sink.Play(item.ctx, buf); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Int("fragment", item.seq).Msg("playback failed")
		p.report(err)
	}
}

func (p *Player) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && gen == p.gen
}

func (p *Player) decodeFailed(seq int, err error) {
	decodeErr := &core.AudioDecodeError{Fragment: seq, Err: err}
	p.logger.Warn().Err(err).Int("fragment", seq).Msg("skipping undecodable fragment")
	p.report(decodeErr)

	p.mu.Lock()
	p.failures++
	persistent := p.failures >= p.threshold && !p.degraded
	if persistent {
		p.degraded = true
	}
	p.mu.Unlock()
	if persistent {
		p.logger.Error().Int("failures", p.threshold).Msg("audio decode failing persistently")
		p.report(ErrPersistentDecodeFailure)
	}
}

func (p *Player) decodeOK() {
	p.mu.Lock()
	p.failures = 0
	p.degraded = false
	p.mu.Unlock()
}

func (p *Player) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

func applyGain(buf *core.PCMBuffer, gain float64) {
	if buf == nil || gain == 1 {
		return
	}
	for i, s := range buf.Samples {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		buf.Samples[i] = int16(v)
	}
}
