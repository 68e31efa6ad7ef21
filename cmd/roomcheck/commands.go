package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/park285/chess-world/internal/client"
	"github.com/park285/chess-world/internal/obslog"
	"github.com/park285/chess-world/internal/roomapi"
	"github.com/park285/chess-world/internal/rules"
	"go.uber.org/zap"
)

type Globals struct {
	BaseURL string
	Timeout time.Duration
	Debug   bool
}

func (g *Globals) api() *roomapi.Client {
	return roomapi.NewClient(g.BaseURL,
		roomapi.WithTimeout(g.Timeout),
		roomapi.WithHeaderProvider(func() map[string]string { return map[string]string{"User-Agent": "roomcheck/" + version} }),
	)
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	api := g.api()
	h, err := api.Health(ctx)
	if err != nil {
		return fmt.Errorf("/healthz: %w", err)
	}
	fmt.Printf("status=%s sessions=%d peers=%d connections=%d uptime=%s\n", h.Status, h.Sessions, h.Peers, h.Connections, h.Uptime)
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  check %s: %s\n", name, h.Checks[name])
	}

	games, err := api.Games(ctx)
	if err != nil {
		return fmt.Errorf("/games: %w", err)
	}
	for _, s := range games {
		fmt.Printf("  room %-24s plies=%-3d peers=%-3d %s\n", s.ID, len(s.MovesUCI), s.Peers, s.FEN)
	}
	return nil
}

type GameCmd struct {
	GameID string `arg:"" help:"room id"`
}

func (c *GameCmd) Run(ctx context.Context, g *Globals) error {
	snap, err := g.api().Game(ctx, c.GameID)
	if errors.Is(err, roomapi.ErrNotFound) {
		return fmt.Errorf("room %q is not live", c.GameID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("room:    %s\nfen:     %s\npeers:   %d\nmoves:   %s\n", snap.ID, snap.FEN, snap.Peers, strings.Join(snap.MovesSAN, " "))
	if snap.Outcome != "" {
		fmt.Printf("result:  %s (%s)\n", snap.Outcome, snap.Method)
	}
	return nil
}

type BoardCmd struct {
	GameID string `arg:"" help:"room id"`
	Output string `short:"o" help:"output file" default:"board.png"`
	Flip   bool   `help:"draw from black's side"`
}

func (c *BoardCmd) Run(ctx context.Context, g *Globals) error {
	png, err := g.api().Board(ctx, c.GameID, c.Flip)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Output, png, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", c.Output, len(png))
	return nil
}

type WatchCmd struct {
	GameID string        `arg:"" optional:"" help:"room id (default room when empty)"`
	For    time.Duration `help:"how long to watch" default:"10s"`
}

func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	wctx, cancel := context.WithTimeout(ctx, c.For)
	defer cancel()
	cl, err := client.New(client.Config{
		BaseURL:      g.BaseURL,
		GameID:       c.GameID,
		MaxDialTries: 5,
		OnPosition:   func(pos rules.Position) { fmt.Printf("%s position %s\n", time.Now().Format(time.TimeOnly), pos) },
		OnRejection:  func(reason string) { fmt.Printf("%s rejected %s\n", time.Now().Format(time.TimeOnly), reason) },
		OnState:      func(s client.State) { obslog.L().Debug("roomcheck_state", zap.String("state", s.String())) },
	})
	if err != nil {
		return err
	}
	if err := cl.Run(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type PlayCmd struct {
	GameID string        `arg:"" help:"room id"`
	Moves  []string      `arg:"" help:"moves in UCI form, e.g. e2e4 e7e5"`
	Wait   time.Duration `help:"how long to wait for each confirmation" default:"5s"`
}

func (c *PlayCmd) Run(ctx context.Context, g *Globals) error {
	positions := make(chan rules.Position, 8)
	rejections := make(chan string, 8)
	cl, err := client.New(client.Config{
		BaseURL:      g.BaseURL,
		GameID:       c.GameID,
		MaxDialTries: 5,
		OnPosition:   func(pos rules.Position) { positions <- pos },
		OnRejection:  func(reason string) { rejections <- reason },
	})
	if err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- cl.Run(rctx) }()

	wait := func() (rules.Position, error) {
		select {
		case pos := <-positions:
			return pos, nil
		case reason := <-rejections:
			return "", errors.New(reason)
		case err := <-runErr:
			return "", fmt.Errorf("connection ended: %w", err)
		case <-time.After(c.Wait):
			return "", errors.New("timed out waiting for the server")
		}
	}

	start, err := wait()
	if err != nil {
		return err
	}
	fmt.Printf("joined %s at %s\n", c.GameID, start)
	for _, mv := range c.Moves {
		if err := cl.Play(ctx, mv); err != nil {
			return fmt.Errorf("%s: %w", mv, err)
		}
		pos, err := wait()
		if err != nil {
			return fmt.Errorf("%s: %w", mv, err)
		}
		fmt.Printf("%-6s -> %s\n", mv, pos)
	}
	return nil
}

type ResultsCmd struct {
	Limit int  `help:"how many finished games to list" default:"10"`
	PGN   bool `help:"print the PGN of each game"`
}

func (c *ResultsCmd) Run(ctx context.Context, g *Globals) error {
	recs, err := g.api().Results(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no finished games")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%s  %-24s %-7s %-22s plies=%d took=%s\n", r.EndedAt.Format(time.DateTime), r.GameID, r.Result, r.Method, len(r.MovesUCI), r.Duration().Round(time.Second))
		if c.PGN {
			fmt.Println(r.PGN)
		}
	}
	return nil
}
