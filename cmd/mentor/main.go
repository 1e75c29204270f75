package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/mentor/internal/adapters/capture"
	router "github.com/dkeye/mentor/internal/adapters/http"
	"github.com/dkeye/mentor/internal/adapters/rest"
	"github.com/dkeye/mentor/internal/adapters/rtc"
	wsignal "github.com/dkeye/mentor/internal/adapters/signal"
	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/app/orch"
	"github.com/dkeye/mentor/internal/app/sfu"
	"github.com/dkeye/mentor/internal/audio"
	"github.com/dkeye/mentor/internal/config"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/whiteboard"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("mentor", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	hub := app.NewHub(64)

	raster := whiteboard.NewRasterCanvas(cfg.Whiteboard.Width, cfg.Whiteboard.Height)
	vector := whiteboard.NewVectorCanvas(cfg.Whiteboard.Width, cfg.Whiteboard.Height)
	board := whiteboard.NewRenderer(whiteboard.MultiCanvas{raster, vector})

	relay := sfu.NewRelay(ctx, cfg.WebRTC.ViewerBuffer)

	mic := capture.NewMicrophone()

	userID := cfg.User.ID
	if userID == "" {
		userID = uuid.NewString()
	}
	user, err := domain.NewUser(userID, cfg.User.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid user")
	}

	api := rest.NewClient(cfg.Service.FunctionsURL, cfg.Service.AnonKey, rest.Options{
		MaxAttempts: uint64(cfg.Retry.MaxAttempts),
		BaseDelay:   cfg.Retry.BaseDelay,
	})

	client := orch.New(orch.Options{
		WSURL:       cfg.Service.WSURL,
		User:        *user,
		ContextPage: cfg.Session.ContextPage,
		Signal: wsignal.Options{
			ReadLimit:    cfg.Signal.ReadLimit,
			PingPeriod:   cfg.Signal.PingPeriod,
			WriteTimeout: cfg.Signal.WriteTimeout,
			SendBuffer:   cfg.Signal.SendBuffer,
		},
	}, orch.Deps{
		API:       api,
		NewPlayer: playerFactory(cfg, hub),
		Board:     board,
		Video:     relay,
		Capture:   mic,
		Notify:    hub,
		Limiter:   app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
	})
	client.SetMuted(cfg.Audio.Muted)
	client.SetVolume(cfg.Audio.Volume)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:   client,
		Hub:    hub,
		Board:  board,
		Raster: raster,
		Vector: vector,
		Relay:  relay,
		WebRTC: rtc.DefaultWebRTCConfig(cfg.WebRTC.ICEServers),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("mentor client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	if cfg.AutoCreate {
		go func() {
			defaults := cfg.SessionDefaults()
			if _, err := client.Create(ctx, orch.CreateParams{Type: defaults.SessionType, Config: defaults}); err != nil {
				log.Error().Err(err).Msg("auto-create failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := client.End(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session end")
	}
	relay.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

// playerFactory builds one player per connection. The sound card is used
// when available, otherwise playback is only paced.
func playerFactory(cfg *config.Config, hub *app.Hub) func() orch.AudioPlayer {
	return func() orch.AudioPlayer {
		var sink core.AudioSink
		if cfg.Audio.Output == "device" {
			s, err := capture.NewDeviceSink()
			if err != nil {
				log.Warn().Err(err).Msg("audio device unavailable, falling back to clock output")
			} else {
				sink = s
			}
		}
		if sink == nil {
			sink = audio.NewClockSink(1)
		}
		return audio.NewPlayer(audio.WAVDecoder{}, sink, audio.Options{
			DecodeFailureThreshold: cfg.Audio.DecodeFailureThreshold,
			Muted:                  cfg.Audio.Muted,
			Volume:                 cfg.Audio.Volume,
			OnError: func(err error) {
				hub.Notify(app.Event{Kind: app.EventServiceError, Data: map[string]string{"audio": err.Error()}})
			},
		})
	}
}
