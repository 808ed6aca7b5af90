package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"transcript-pipeline/internal/bootstrap"
	"transcript-pipeline/internal/config"
	"transcript-pipeline/internal/domain"
	"transcript-pipeline/internal/jobs"
	. "transcript-pipeline/internal/logging"
)

const version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	ConfigFile string `help:"Settings file." name:"config" type:"path" env:"TRANSCRIBER_CONFIG"`
	LogLevel   string `help:"Log level override (debug, info, warn, error)." name:"log-level"`
}

type CLI struct {
	Globals

	Transcribe TranscribeCmd `cmd:"" help:"Transcribe one or more audio or video files."`
	Check      CheckCmd      `cmd:"" help:"Run dependency and configuration checks."`
	Fix        FixCmd        `cmd:"" help:"Apply the automatic fix for one failed check."`
	Settings   SettingsCmd   `cmd:"" name:"settings" help:"Show or update the persisted settings."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
}

type TranscribeCmd struct {
	Files  []string `arg:"" type:"existingfile" help:"Media files to transcribe."`
	Bucket string   `help:"Staging bucket URL for this invocation (gs://, file:// or mem://)."`
	Output string   `short:"o" type:"path" help:"Directory for transcript files."`
	Print  bool     `help:"Write transcripts to stdout."`
	Quiet  bool     `short:"q" help:"Suppress status lines."`
}

func (c *TranscribeCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open(ctx, overrideStore{Store: g.store(), bucket: c.Bucket, outputDir: c.Output})
	if err != nil {
		return err
	}
	defer app.Close()

	printer := &eventPrinter{history: app, quiet: c.Quiet}
	subID, events := app.SubscribeEvents(256)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for event := range events {
			printer.print(event)
		}
	}()

	var items []bootstrap.BatchItem
	if len(c.Files) == 1 {
		items = []bootstrap.BatchItem{transcribeOne(ctx, app, c.Files[0])}
	} else {
		items = app.TranscribeBatch(ctx, c.Files)
	}
	app.UnsubscribeEvents(subID)
	<-printed
	printer.drain()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", item.InputPath, item.Err)
			continue
		}
		if c.Print {
			fmt.Println(item.Result.Transcript)
		}
		if item.Result.TextPath != "" {
			fmt.Fprintf(os.Stderr, "%s -> %s\n", item.InputPath, item.Result.TextPath)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(items))
	}
	return nil
}

// transcribeOne runs a single input as a background job and cancels it when
// ctx is done.
func transcribeOne(ctx context.Context, app *bootstrap.App, input string) bootstrap.BatchItem {
	item := bootstrap.BatchItem{InputPath: input}
	job, err := app.StartTranscription(input)
	if err != nil {
		item.Err = err
		return item
	}
	item.JobID = job.ID

	stop := context.AfterFunc(ctx, func() {
		if err := app.CancelTranscription(job.ID); err != nil {
			L_debug("cancel after interrupt", "job", job.ID, "error", err)
		}
	})
	defer stop()

	item.Result, item.Err = app.Wait(context.Background(), job.ID)
	return item
}

type CheckCmd struct{}

func (c *CheckCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open(ctx, g.store())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.RefreshDiagnostics(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	if report.HasFailures {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

type FixCmd struct {
	ID string `arg:"" help:"Check ID to fix (tool_ffmpeg, work_dir, output_dir)."`
}

func (c *FixCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open(ctx, g.store())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.InstallOrFixDiagnostic(ctx, c.ID)
	printReport(report)
	return err
}

type SettingsCmd struct {
	Path     bool   `help:"Print only the settings file location."`
	Bucket   string `help:"Save the staging bucket URL."`
	Output   string `type:"path" help:"Save the transcript output directory."`
	WorkDir  string `type:"path" help:"Save the working directory."`
	Language string `help:"Save the recognition language code."`
}

func (c *SettingsCmd) changes() bool {
	return c.Bucket != "" || c.Output != "" || c.WorkDir != "" || c.Language != ""
}

func (c *SettingsCmd) Run(ctx context.Context, g *Globals) error {
	if c.Path {
		fmt.Println(g.store().Path())
		return nil
	}

	app, err := g.open(ctx, g.store())
	if err != nil {
		return err
	}
	defer app.Close()

	settings, err := app.GetSettings()
	if err != nil {
		return err
	}
	if c.changes() {
		if c.Bucket != "" {
			settings.Bucket = c.Bucket
		}
		if c.Output != "" {
			settings.OutputDir = c.Output
		}
		if c.WorkDir != "" {
			settings.WorkDir = c.WorkDir
		}
		if c.Language != "" {
			settings.Recognition.LanguageCode = c.Language
		}
		if settings, err = app.SaveSettings(ctx, settings); err != nil {
			return err
		}
	}

	if settings.Google.APIKey != "" {
		settings.Google.APIKey = "<redacted>"
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Print(string(data))

	if c.changes() {
		fmt.Println()
		printReport(app.GetDiagnostics())
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("transcriber %s\n", version)
	return nil
}

func (g *Globals) store() *config.YAMLStore {
	path := g.ConfigFile
	if path == "" {
		path = config.DefaultPath()
	}
	return config.NewYAMLStore(path)
}

func (g *Globals) open(ctx context.Context, store config.Store) (*bootstrap.App, error) {
	if g.LogLevel != "" {
		store = overrideStore{Store: store, logLevel: g.LogLevel}
	}
	app, err := bootstrap.New(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return app, nil
}

// overrideStore applies command-line overrides on top of persisted settings
// without writing them back.
type overrideStore struct {
	config.Store
	bucket    string
	outputDir string
	logLevel  string
}

func (s overrideStore) Load() (domain.Settings, error) {
	settings, err := s.Store.Load()
	if err != nil {
		return settings, err
	}
	if s.bucket != "" {
		settings.Bucket = s.bucket
	}
	if s.outputDir != "" {
		settings.OutputDir = s.outputDir
	}
	if s.logLevel != "" {
		settings.LogLevel = s.logLevel
	}
	return settings, nil
}

// eventPrinter prints job events in sequence order. Events a full
// subscriber buffer dropped are read back from the bus history.
type eventPrinter struct {
	history eventHistory
	quiet   bool
	last    int64
	emitted func(jobs.Event)
}

type eventHistory interface {
	JobEvents(sinceSeq int64) []jobs.Event
}

func (p *eventPrinter) print(event jobs.Event) {
	if event.Seq <= p.last {
		return
	}
	if event.Seq > p.last+1 {
		for _, missed := range p.history.JobEvents(p.last) {
			if missed.Seq >= event.Seq {
				break
			}
			p.emit(missed)
		}
	}
	p.emit(event)
}

// drain prints whatever was published after the last delivered event.
func (p *eventPrinter) drain() {
	for _, event := range p.history.JobEvents(p.last) {
		p.emit(event)
	}
}

func (p *eventPrinter) emit(event jobs.Event) {
	p.last = event.Seq
	if p.emitted != nil {
		p.emitted(event)
	}
	if !p.quiet {
		printEvent(event)
	}
}

func printEvent(event jobs.Event) {
	job := event.JobID
	if len(job) > 8 {
		job = job[:8]
	}
	switch event.Type {
	case jobs.EventTypeStatus, jobs.EventTypeProgress:
		fmt.Fprintf(os.Stderr, "[%s] %s\n", job, event.Message)
	case jobs.EventTypeError:
		fmt.Fprintf(os.Stderr, "[%s] error (%s): %s\n", job, event.ErrorKind, event.Message)
	case jobs.EventTypeLog:
		if event.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "[%s] %s %s exited %d\n%s\n", job, event.Command, strings.Join(event.Args, " "), event.ExitCode, event.Stderr)
		}
	case jobs.EventTypeResult:
		fmt.Fprintf(os.Stderr, "[%s] %s\n", job, event.Message)
	}
}

func printReport(report domain.DiagnosticReport) {
	for _, item := range report.Items {
		fmt.Printf("%-5s %-18s %s\n", strings.ToUpper(string(item.Status)), item.ID, item.Message)
		if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
			fmt.Printf("      %s\n", item.Hint)
		}
	}
}

func main() {
	Init(DefaultConfig())

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("transcriber"),
		kong.Description("Transcribe media files with Google Cloud Speech-to-Text."),
		kong.UsageOnError(),
	)

	if cli.LogLevel != "" {
		if err := SetLevel(cli.LogLevel); err != nil {
			L_fatal("invalid log level: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	stop()
	kctx.FatalIfErrorf(err)
}
