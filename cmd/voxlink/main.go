package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/adapters/media"
	"github.com/voxlink/voxlink/internal/adapters/rtc"
	"github.com/voxlink/voxlink/internal/adapters/ws"
	"github.com/voxlink/voxlink/internal/app/negotiate"
	"github.com/voxlink/voxlink/internal/app/session"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	token := cfg.Token
	if token == "" {
		token = uuid.NewString()
	}

	user, err := domain.NewUser(domain.UserID(cfg.UserID), cfg.UserName)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid user config")
	}

	wsURL := cfg.WSURL
	if cfg.UserName != "" {
		wsURL += "?name=" + url.QueryEscape(cfg.UserName)
	}

	transport := ws.NewClient(ws.Config{
		URL:        wsURL,
		Token:      token,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	})

	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = rtc.DefaultICEServers()
	}

	// The session is wired after the engine because the engine's Notify
	// callback points back at it.
	var sess *session.Session

	engine := negotiate.New(negotiate.Config{
		LocalUserID:   user.ID,
		Devices:       media.NewDevices(cfg.VideoFile, cfg.AudioFile),
		NewPeer:       rtc.NewFactory(stun),
		Send:          transport.SendSignal,
		Notify:        func(ev negotiate.Event) { sess.OnEngineEvent(ev) },
		ConnectGrace:  cfg.ConnectGrace,
		RestartWindow: cfg.RestartWindow,
	})

	sess = session.New(session.Config{
		User:      *user,
		Transport: transport,
		Engine:    engine,
		TypingTTL: cfg.TypingTTL,
		OnUpdate: func() {
			snap := sess.Snapshot()
			log.Info().
				Str("module", "main").
				Str("state", snap.State.String()).
				Int64("call_id", int64(snap.CallID)).
				Str("peer", snap.PeerName).
				Bool("peer_typing", snap.PeerTyping).
				Msg("session update")
		},
		OnNotice: func(n session.Notice) {
			log.Warn().Str("module", "main").Str("notice", n.Message).Msg("session notice")
		},
	})
	transport.UpdateHandlers(sess.Handlers())

	if err := sess.StartSearching(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start searching")
	}
	log.Info().Str("module", "main").Int64("user_id", int64(user.ID)).Msg("voxlink client started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	sess.Close()
	transport.Close()
	log.Info().Msg("Client exited gracefully")
}
