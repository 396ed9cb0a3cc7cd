package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/splax/teamsync/pkg/config"
	"github.com/splax/teamsync/pkg/logger"
	"github.com/splax/teamsync/pkg/protocol"
	"github.com/splax/teamsync/pkg/realtime"
	"github.com/splax/teamsync/pkg/teamsync"
)

// screen serialises redraws coming from the socket and the REST reloads.
type screen struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *screen) draw(title string, render func(io.Writer) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\n== %s  %s\n", title, time.Now().Format(time.Kitchen))
	if err := render(s.out); err != nil {
		fmt.Fprintf(s.out, "render failed: %v\n", err)
	}
}

func (s *screen) status(st realtime.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "-- realtime %s\n", st)
}

func commandWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	teamID := fs.String("team", "", "Watch one team's members instead of your team list")
	verbose := fs.Bool("verbose", false, "Log realtime diagnostics to stderr")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	api, s, err := authorized(authCtx)
	cancel()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := logger.NewText("teamctl", level, os.Stderr)
	out := &screen{out: os.Stdout}
	session := teamsync.Session{API: api, Token: s.AccessToken, UserID: s.UserID, Logger: log}

	var view teamsync.View
	if id := strings.TrimSpace(*teamID); id != "" {
		var detail *teamsync.TeamDetail
		detail = teamsync.NewTeamDetail(session, id, teamsync.DetailOptions{
			OnTeam: func(team protocol.Team) {
				members := detail.Members()
				out.draw("team "+id, func(w io.Writer) error { return renderTeamDetail(w, team, members) })
			},
			OnMembers: func(members []protocol.Member) {
				team, _ := detail.Team()
				out.draw("team "+id, func(w io.Writer) error { return renderTeamDetail(w, team, members) })
			},
			OnGone: func(reason teamsync.GoneReason) {
				fmt.Fprintf(os.Stdout, "team %s is no longer available (%s)\n", id, reason)
				stop()
			},
		})
		view = detail
	} else {
		view = teamsync.NewTeamList(session, func(teams []protocol.Team) {
			out.draw("teams", func(w io.Writer) error { return renderTeams(w, teams) })
		})
	}

	clientCfg := config.LoadClientConfig()
	syncer := teamsync.NewSync(log, view)
	rt, err := syncer.Connect(ctx, realtime.Options{
		URL: api.RealtimeURL(s.AccessToken),
		Schedule: realtime.Schedule{
			Base:     clientCfg.ReconnectBase,
			Max:      clientCfg.ReconnectMax,
			Jitter:   clientCfg.ReconnectJitter,
			Attempts: clientCfg.ReconnectAttempts,
		},
		Logger:   log,
		OnStatus: out.status,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.Run(ctx)
	if errors.Is(err, realtime.ErrOffline) {
		return fmt.Errorf("realtime connection lost: %w", err)
	}
	return err
}
