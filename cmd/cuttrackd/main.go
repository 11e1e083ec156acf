// Command cuttrackd runs the cuttrack server and offers a few operator
// commands against a running instance.
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

// Globals are shared by every command.
type Globals struct {
	Logger *slog.Logger
	Config *Config
}

// CLI is the command line definition.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"cuttrack.yaml" env:"CUTTRACK_CONFIG" type:"path"`
	Verbose bool             `short:"v" help:"Enable debug logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the tracking server"`
	Migrate MigrateCmd `cmd:"" help:"Apply store schema migrations and exit"`
	Create  CreateCmd  `cmd:"" help:"Create a job from a bill of materials file"`
	Watch   WatchCmd   `cmd:"" help:"Follow a job's progress live"`
	Toggle  ToggleCmd  `cmd:"" help:"Toggle the status of one sheet"`
}

// AfterApply loads the configuration and sets up logging once flags are
// parsed.
func (c *CLI) AfterApply(g *Globals) error {
	cfg, err := LoadConfig(c.Config, true)
	if err != nil {
		return err
	}
	g.Config = cfg
	g.Logger = cfg.Log.NewLogger(c.Verbose)
	slog.SetDefault(g.Logger)
	return nil
}

func main() {
	var cli CLI
	globals := &Globals{}
	ctx := kong.Parse(&cli,
		kong.Name("cuttrackd"),
		kong.Description("Job execution and progress tracking for sheet cutting."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Bind(globals),
	)
	if err := ctx.Run(globals); err != nil {
		slog.Error("command failed", slog.String("command", ctx.Command()), slog.String("error", err.Error()))
		os.Exit(1)
	}
}
