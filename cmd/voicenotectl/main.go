// Command voicenotectl runs clips through the pipeline from a terminal and
// inspects the usage ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/config"
	"github.com/snarg/voicenote/internal/delivery"
	"github.com/snarg/voicenote/internal/ledger"
	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/pipeline"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/rewrite"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/storage"
	"github.com/snarg/voicenote/internal/transcribe"
)

const usageText = `usage: voicenotectl <command> [flags]

commands:
  process      transcribe (and optionally rewrite) a local clip
  usage        print usage totals as JSON
  export-xlsx  write usage totals to an .xlsx workbook`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usageText)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "process":
		err = runProcess(ctx, os.Args[2:])
	case "usage":
		err = runUsage(ctx, os.Args[2:])
	case "export-xlsx":
		err = runExport(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usageText)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usageText)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// common holds the flags every subcommand accepts.
type common struct {
	overrides config.Overrides
	verbose   bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	fs.StringVar(&c.overrides.LedgerDriver, "ledger-driver", "", "Ledger backend: sqlite|postgres")
	fs.StringVar(&c.overrides.LedgerDSN, "ledger-dsn", "", "Ledger DSN")
	fs.BoolVar(&c.verbose, "v", false, "Verbose logging to stderr")
}

func (c *common) setup(ctx context.Context) (*config.Config, ledger.Ledger, zerolog.Logger, error) {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	cfg, err := config.Load(c.overrides)
	if err != nil {
		return nil, nil, log, fmt.Errorf("load config: %w", err)
	}
	led, err := ledger.Open(ctx, cfg.LedgerDriver, cfg.LedgerDSN, cfg.LedgerConnectTimeout,
		log.With().Str("component", "ledger").Logger())
	if err != nil {
		return nil, nil, log, err
	}
	return cfg, led, log, nil
}

func runProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	var c common
	c.register(fs)
	file := fs.String("file", "", "Audio or video clip to process (required)")
	user := fs.String("user", "cli", "User ID to account the clip to")
	mode := fs.String("mode", "transcript", "Output mode: transcript|summary")
	style := fs.String("style", "", "Rewrite style for summary mode (key_points, filler_removal, paragraphs, business, clarity, author_voice)")
	instruction := fs.String("instruction", "", "Custom rewrite instruction, overrides -style")
	kindFlag := fs.String("kind", "", "Media kind: audio|video (default from file extension)")
	duration := fs.Int("duration", 0, "Clip length in seconds (default probed with ffprobe)")
	fs.Parse(args)

	if *file == "" {
		fs.Usage()
		return errors.New("-file is required")
	}
	m, err := session.ParseMode(*mode)
	if err != nil {
		return err
	}
	kind := guessKind(*file)
	if *kindFlag != "" {
		if kind, err = media.ParseKind(*kindFlag); err != nil {
			return err
		}
	}

	cfg, led, log, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	normalizer := media.NewFFmpegNormalizer(cfg.FFmpegPath, cfg.FFprobePath, log)
	if *duration <= 0 {
		if *duration, err = normalizer.ProbeDuration(ctx, *file); err != nil {
			return fmt.Errorf("cannot determine clip duration, pass -duration: %w", err)
		}
	}

	transcriber, err := transcribe.FromConfig(cfg)
	if err != nil {
		return err
	}
	gen, err := rewrite.FromConfig(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "voicenotectl-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	store := storage.NewLocalStore(filepath.Join(tmp, "media"))
	workDir := filepath.Join(tmp, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}

	done := make(chan pipeline.State, 1)
	orch := pipeline.New(pipeline.Options{
		Sessions:       session.NewStore(),
		Guard:          quota.NewGuard(cfg.QuotaThresholdSeconds, cfg.QuotaCostPerSecond),
		Fetcher:        storage.NewFetcher(store, workDir),
		Normalizer:     normalizer,
		Transcriber:    transcriber,
		Rewriter:       rewrite.New(gen),
		Ledger:         led,
		Sink:           delivery.NewWriterSink(os.Stdout, os.Stderr),
		IsPrivileged:   cfg.IsPrivileged,
		HasAuthorVoice: cfg.HasAuthorVoice,
		ChunkMaxLength: cfg.ChunkMaxLength,
		RunTimeout:     cfg.PipelineRunTimeout,
		Workers:        1,
		QueueSize:      1,
		Trace: func(_ string, s pipeline.State) {
			if s.Terminal() {
				done <- s
			}
		},
		Log: log.With().Str("component", "pipeline").Logger(),
	})
	orch.Start()
	defer orch.Stop()

	src, err := os.Open(*file)
	if err != nil {
		return err
	}
	ref := media.Ref{Key: storage.NewKey(*file, time.Now()), Kind: kind, DurationSeconds: *duration}
	err = store.Save(ctx, ref.Key, src, "")
	src.Close()
	if err != nil {
		return fmt.Errorf("stage clip: %w", err)
	}

	if _, err := orch.Submit(ctx, *user, ref); err != nil {
		return err
	}
	if _, err := orch.Choose(ctx, pipeline.Choice{
		UserID:      *user,
		Mode:        m,
		Style:       *style,
		Instruction: *instruction,
	}); err != nil {
		return err
	}

	select {
	case s := <-done:
		if s != pipeline.Delivered {
			return fmt.Errorf("run ended %s", s)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func guessKind(path string) media.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
		return media.KindVideo
	}
	return media.KindAudio
}

func runUsage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	var c common
	c.register(fs)
	user := fs.String("user", "", "Only print this user")
	fs.Parse(args)

	_, led, _, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if *user != "" {
		u, err := led.GetUsage(ctx, *user)
		if err != nil {
			return err
		}
		return enc.Encode(u)
	}
	rows, err := led.GetAllUsage(ctx)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []ledger.Usage{}
	}
	return enc.Encode(rows)
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export-xlsx", flag.ExitOnError)
	var c common
	c.register(fs)
	out := fs.String("out", "usage.xlsx", "Output workbook path")
	fs.Parse(args)

	_, led, _, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	rows, err := led.GetAllUsage(ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := ledger.WriteXLSX(f, rows); err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", len(rows), *out)
	return nil
}
