// Command livepeer is a headless participant: it joins a live session,
// negotiates media with everyone in it, and relays chat to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Classroom/internal/adapters/rtc"
	"github.com/dkeye/Classroom/internal/auth"
	"github.com/dkeye/Classroom/internal/client"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/peer"
	"github.com/dkeye/Classroom/internal/protocol"
)

type flags struct {
	server      string
	token       string
	session     string
	room        string
	say         string
	start       bool
	screenAfter time.Duration
	statsEvery  time.Duration
}

func parseFlags() flags {
	var f flags
	pflag.StringVarP(&f.server, "server", "s", "http://localhost:8080", "server base URL")
	pflag.StringVarP(&f.token, "token", "t", os.Getenv("CLASSROOM_TOKEN"), "access token (default $CLASSROOM_TOKEN)")
	pflag.StringVar(&f.session, "session", "", "live session id to join")
	pflag.StringVar(&f.room, "room", "", "chat room to join (defaults to the session id)")
	pflag.StringVar(&f.say, "say", "", "chat line to send once joined")
	pflag.BoolVar(&f.start, "start", false, "start the session after joining (owner only)")
	pflag.DurationVar(&f.screenAfter, "screen-after", 0, "switch from camera to screen after this long")
	pflag.DurationVar(&f.statsEvery, "stats", 30*time.Second, "inbound media stats interval")
	pflag.Parse()
	return f
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	f := parseFlags()
	if f.token == "" || f.session == "" {
		pflag.Usage()
		os.Exit(2)
	}
	if f.room == "" {
		f.room = f.session
	}

	cfg, err := config.LoadPeer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(ctx, cfg, f); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("livepeer stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, f flags) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	self, err := auth.Peek(f.token)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	sessionID := domain.SessionID(f.session)
	room := domain.RoomID(f.room)

	camera, err := rtc.NewSampleSource(ctx, peer.KindCamera, 15)
	if err != nil {
		return err
	}
	receiver := rtc.NewReceiver()

	live := client.NewLive(self)
	live.History = &client.HistoryClient{BaseURL: f.server, Token: f.token}
	live.Client = client.New(client.Options{
		URL:       "ws" + strings.TrimPrefix(f.server, "http") + "/api/ws/signal",
		Token:     f.token,
		Attempts:  cfg.ReconnectAttempts,
		BaseDelay: cfg.ReconnectBaseDelay,
		MaxDelay:  cfg.ReconnectMaxDelay,
		WriteWait: cfg.WriteWait,
		PongWait:  cfg.PongWait,
	}, live)

	factory := rtc.Factory(rtc.DefaultWebRTCConfig(cfg.ICEServers), func(remote domain.UserID, track *webrtc.TrackRemote) {
		receiver.Attach(ctx, remote, track)
	})
	live.Coord = peer.NewCoordinator(self.ID, factory, live.Signaler(), peer.Options{
		Timeout:    cfg.NegotiationTimeout,
		RetryDelay: cfg.NegotiationRetryDelay,
	}, peer.Events{
		OnConnected: func(remote domain.UserID) {
			log.Info().Str("module", "livepeer").Str("remote", string(remote)).Msg("media connected")
		},
		OnDegraded: func(remote domain.UserID, err error) {
			log.Warn().Err(err).Str("module", "livepeer").Str("remote", string(remote)).Msg("participant degraded")
			go receiver.Drop(remote)
		},
	})
	go live.Coord.Run(ctx)
	if err := live.Coord.SetVideo(ctx, camera); err != nil {
		return err
	}

	live.OnJoined = func(ev protocol.SessionJoined) {
		log.Info().Str("module", "livepeer").Str("session_id", string(ev.Session.ID)).Str("status", string(ev.Session.Status)).Int("participants", len(ev.Participants)).Msg("joined")
		if f.start && ev.Session.Status == domain.StatusInactive {
			_ = live.Start(ev.Session.ID)
		}
	}
	live.OnStatus = func(id domain.SessionID, st domain.Status) {
		log.Info().Str("module", "livepeer").Str("session_id", string(id)).Str("status", string(st)).Msg("session status")
		if st == domain.StatusEnded && id == sessionID {
			stop()
		}
	}
	live.OnChat = func(m domain.ChatMessage) {
		fmt.Printf("[%s #%d] %s: %s\n", m.RoomID, m.Seq, m.SenderName, m.Content)
	}

	joinedOnce := make(chan struct{})
	live.Client.OnConnected(func(reconnect bool) {
		if reconnect {
			live.Resubscribe(true)
			return
		}
		_ = live.Join(sessionID)
		_ = live.JoinRoom(room)
		if f.say != "" {
			_ = live.Say(room, f.say)
		}
		close(joinedOnce)
	})
	live.Client.OnStateChange(live.ChannelState)

	if f.screenAfter > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-joinedOnce:
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.screenAfter):
			}
			screen, err := rtc.NewSampleSource(ctx, peer.KindScreen, 5)
			if err != nil {
				log.Error().Err(err).Str("module", "livepeer").Msg("screen source")
				return
			}
			if err := live.Coord.SwitchVideo(ctx, screen); err != nil {
				log.Warn().Err(err).Str("module", "livepeer").Msg("screen share partially failed")
			}
			_ = live.SetMedia(domain.MediaFlags{Audio: false, Video: true, Screen: true})
		}()
	}

	go func() {
		ticker := time.NewTicker(f.statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range receiver.Stats() {
					log.Info().Str("module", "livepeer").Str("remote", string(s.Remote)).Str("kind", s.Kind).Uint64("packets", s.Packets).Uint64("bytes", s.Bytes).Msg("inbound")
				}
			}
		}
	}()

	err = live.Client.Run(ctx)
	camera.Stop()
	return err
}
