package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/park285/chess-world/internal/obslog"
)

var (
	version = "dev"
	cli     struct {
		BaseURL string        `help:"gateway base URL" default:"http://localhost:8080" env:"ROOMCHECK_BASE_URL"`
		Timeout time.Duration `help:"per-request timeout" default:"5s"`
		Debug   bool          `help:"enable debug logging"`
		Version kong.VersionFlag

		Status  StatusCmd  `cmd:"" help:"Show gateway health and live rooms"`
		Game    GameCmd    `cmd:"" help:"Show one room's snapshot"`
		Board   BoardCmd   `cmd:"" help:"Save a room's board as PNG"`
		Watch   WatchCmd   `cmd:"" help:"Watch a room's position stream"`
		Play    PlayCmd    `cmd:"" help:"Join a room and play moves"`
		Results ResultsCmd `cmd:"" help:"List recently finished games"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("roomcheck"),
		kong.Description("Probe a chess-world gateway."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)))
	if cli.Debug {
		_ = obslog.Init(obslog.Options{Level: "debug", Format: "console", Console: true})
	}
	err := cmd.Run(&Globals{BaseURL: cli.BaseURL, Timeout: cli.Timeout, Debug: cli.Debug})
	cmd.FatalIfErrorf(err)
}
