package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("famland"),
		kong.Description("Family tree browser with an avatar crop editor."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(&args.Globals); err != nil {
		return err
	}

	return nil
}

type Globals struct {
	Config  string `help:"Path to a YAML config file" type:"existingfile" env:"FAMLAND_CONFIG"`
	Verbose bool   `help:"Enable verbose logging" default:"false"`
}

// setup configures logging and loads the config file.
func (g *Globals) setup() (context.Context, context.CancelFunc, *FileConfig, error) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := LoadFileConfig(g.Config)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx = log.Logger.WithContext(ctx)
	return ctx, cancel, cfg, nil
}

type serveCmd struct {
	RootDir     string        `arg:"" optional:"" help:"Directory with family photos" default:"." type:"existingdir"`
	Open        bool          `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	SessionIdle time.Duration `help:"Drop crop sessions untouched for this long, 0 to keep them" default:"30m"`
}

func (cmd *serveCmd) Run(g *Globals) error {
	ctx, cancel, cfg, err := g.setup()
	if err != nil {
		return err
	}
	defer cancel()

	seed := cfg.Members
	if len(seed) == 0 {
		seed = DefaultMembers()
	}
	store := NewStore(seed)
	sessions := NewSessions(NewSourceLoader(cmd.RootDir), NewImagingExporter(), store, cfg.Crop)
	sessions.IdleTimeout = cmd.SessionIdle
	if cmd.SessionIdle > 0 {
		go sessions.Expire(ctx, cmd.SessionIdle/4)
	}

	app := NewWebApp(Config{
		RootDir:  cmd.RootDir,
		Store:    store,
		Sessions: sessions,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	})

	return app.Run(ctx)
}

type cropCmd struct {
	Jobs      string `arg:"" optional:"" help:"JSONL file with crop operations, - for stdin" default:"-"`
	RootDir   string `help:"Directory the operation filenames are relative to" default:"." type:"existingdir"`
	OutputDir string `help:"Directory to write avatars to (default: <root>/output)"`
	JSON      bool   `help:"Output resolved operations in JSON format without executing"`
}

func (cmd *cropCmd) Run(g *Globals) error {
	ctx, cancel, cfg, err := g.setup()
	if err != nil {
		return err
	}
	defer cancel()

	in := os.Stdin
	if cmd.Jobs != "-" {
		f, err := os.Open(cmd.Jobs)
		if err != nil {
			return fmt.Errorf("failed to open jobs file: %w", err)
		}
		defer f.Close()
		in = f
	}
	ops, err := ReadOperations(in)
	if err != nil {
		return err
	}

	outputDir := cmd.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cmd.RootDir, "output")
	}
	executor := OperationExecutor{
		Loader:    NewSourceLoader(cmd.RootDir),
		OutputDir: outputDir,
		Exporter:  NewImagingExporter(),
		Settings:  cfg.Crop,
	}

	if cmd.JSON {
		plans, err := executor.PlanAll(ctx, ops)
		printJSONL(plans)
		return err
	}
	return executor.Exec(ctx, ops)
}

type cliArgs struct {
	Globals

	Serve serveCmd `cmd:"" default:"withargs" help:"Serve the family tree and crop editor"`
	Crop  cropCmd  `cmd:"" help:"Export avatars in bulk from a JSONL file"`
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
