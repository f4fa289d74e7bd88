package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stemtranscriber/api/internal/client"
	"github.com/stemtranscriber/api/internal/config"
	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/project"
	"github.com/stemtranscriber/api/internal/separation"
	"github.com/stemtranscriber/api/internal/server"
	"github.com/stemtranscriber/api/internal/service"
	"github.com/stemtranscriber/api/internal/transcribe"
	"github.com/stemtranscriber/api/internal/worker"
	"github.com/stemtranscriber/api/internal/workspace"
	ws "github.com/stemtranscriber/api/internal/websocket"
)

var (
	withWorker bool
	instrument string
	outDir     string
)

var rootCmd = &cobra.Command{
	Use:   "stemtranscriber",
	Short: "Stem separation and monophonic transcription service",
	Long: `stemtranscriber splits uploaded recordings into stems and transcribes
a single stem into MIDI and MusicXML.

Pipeline: upload → separation (bass, drums, other, vocals) → transcription`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. By default the job worker runs in the same
process; pass --worker=false when workers run separately.`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a standalone job worker",
	RunE:  runWorker,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <stem.wav>",
	Short: "Transcribe a local WAV file without Redis",
	Long: `Run the transcription pipeline on a local file and write the MIDI
and MusicXML next to it (or into --out).

Example:
  stemtranscriber transcribe bass.wav --instrument bass --out ./out`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "worker", true, "Run the job worker in this process")
	transcribeCmd.Flags().StringVarP(&instrument, "instrument", "i", "bass", "Instrument (bass or guitar)")
	transcribeCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: next to the input)")

	rootCmd.AddCommand(serveCmd, workerCmd, transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := newRedisClient(cfg)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	registry, err := project.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer registry.Close()

	asynqClient := asynq.NewClient(redisOpt(cfg))
	defer asynqClient.Close()

	layout := workspace.New(cfg.Storage.DataDir)
	redisStore := jobstore.NewRedisStore(redisClient, cfg.Jobs.Retention)
	store := jobstore.NewObserved(redisStore, ws.NewPublisher(redisClient))

	// Initialize WebSocket hub and feed it from every worker process
	hub := ws.NewHub()
	go hub.Run()
	go func() {
		if err := ws.NewRelay(redisClient, hub).Run(ctx); err != nil {
			log.Printf("Job event relay stopped: %v", err)
		}
	}()

	dispatch := service.NewDispatchService(store, registry, layout, asynqClient, service.DispatchOptions{
		Timeout:  cfg.Worker.JobTimeout,
		MaxRetry: cfg.Worker.MaxRetry,
	})

	app := server.NewApp(server.Deps{
		Config:   cfg,
		Redis:    redisClient,
		Store:    store,
		Projects: service.NewProjectService(registry, layout),
		Dispatch: dispatch,
		Hub:      hub,
	})

	if withWorker {
		srv, err := startWorkerServer(cfg, store, layout)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		startWatchdog(ctx, cfg, redisStore, store)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(server.ShutdownTimeout); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	return app.Listen(addr)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := newRedisClient(cfg)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not available: %w", err)
	}

	layout := workspace.New(cfg.Storage.DataDir)
	redisStore := jobstore.NewRedisStore(redisClient, cfg.Jobs.Retention)
	store := jobstore.NewObserved(redisStore, ws.NewPublisher(redisClient))

	srv, err := startWorkerServer(cfg, store, layout)
	if err != nil {
		return err
	}
	startWatchdog(ctx, cfg, redisStore, store)

	<-ctx.Done()
	log.Println("Shutting down worker...")
	srv.Shutdown()
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	src := args[0]
	inst := model.Instrument(strings.ToLower(instrument))
	if inst != model.InstrumentBass && inst != model.InstrumentGuitar {
		return fmt.Errorf("unknown instrument %q (want bass or guitar)", instrument)
	}
	if outDir == "" {
		outDir = filepath.Dir(src)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	scratch, err := os.MkdirTemp("", "stemtranscriber-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	const projectID, jobID = "local", "cli"
	layout := workspace.New(scratch)
	if err := layout.EnsureProject(projectID); err != nil {
		return err
	}
	stemName := filepath.Base(src)
	if !workspace.SafeName(stemName) {
		return fmt.Errorf("invalid input path %q", src)
	}
	if err := copyFile(src, layout.StemPath(projectID, stemName)); err != nil {
		return err
	}

	store := jobstore.NewMemoryStore()
	if err := store.Create(cmd.Context(), jobID, projectID, model.JobKindTranscription, "Transcription queued"); err != nil {
		return err
	}

	t := transcribe.NewTranscriber(store, layout, nil, transcriptionConfig(cfg))
	res, err := t.Run(cmd.Context(), transcribe.Request{
		ProjectID:  projectID,
		JobID:      jobID,
		StemName:   stemName,
		Instrument: inst,
	})
	if err != nil {
		return err
	}
	if res == nil {
		job, _ := store.Get(cmd.Context(), jobID)
		return fmt.Errorf("%s", job.Message)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, p := range []string{res.MIDIPath, res.MusicXMLPath} {
		dst := filepath.Join(outDir, filepath.Base(p))
		if err := copyFile(p, dst); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dst)
	}
	log.Printf("Transcribed %d note(s)", len(res.Notes))
	return nil
}

func startWorkerServer(cfg *config.Config, store jobstore.Store, layout workspace.Layout) (*asynq.Server, error) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	storage, err := client.NewStorageClient(&cfg.Mirror)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror client: %w", err)
	}
	mirror := client.NewMirror(storage)
	if mirror.Enabled() {
		log.Printf("Mirroring artifacts via %s driver", cfg.Mirror.Driver)
	}

	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueSeparation:    4,
				service.QueueTranscription: 6,
			},
			LogLevel: asynqLogLevel,
		},
	)

	orchestrator := separation.NewOrchestrator(store, layout, separation.ExecRunner{}, separation.Config{
		Command:    cfg.Separation.Command,
		Model:      cfg.Separation.Model,
		ProgressLo: cfg.Separation.ProgressLo,
		ProgressHi: cfg.Separation.ProgressHi,
	})
	transcriber := transcribe.NewTranscriber(store, layout, nil, transcriptionConfig(cfg))

	separationWorker := worker.NewSeparationWorker(store, orchestrator, mirror)
	transcriptionWorker := worker.NewTranscriptionWorker(store, transcriber, mirror)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSeparation, separationWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeTranscription, transcriptionWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	log.Printf("Worker started (concurrency %d)", cfg.Worker.Concurrency)
	return srv, nil
}

func startWatchdog(ctx context.Context, cfg *config.Config, lister jobstore.ActiveLister, store jobstore.Store) {
	if cfg.Worker.StaleAfter <= 0 {
		return
	}
	log.Printf("Watchdog enabled: failing jobs idle for %s", cfg.Worker.StaleAfter)
	go jobstore.NewWatchdog(lister, store, cfg.Worker.StaleAfter, cfg.Worker.WatchInterval).Run(ctx)
}

func transcriptionConfig(cfg *config.Config) transcribe.Config {
	return transcribe.Config{
		SampleRate:          cfg.Transcription.SampleRate,
		FrameLength:         cfg.Transcription.FrameLength,
		HopLength:           cfg.Transcription.HopLength,
		TrimTopDB:           cfg.Transcription.TrimTopDB,
		MinNoteSeconds:      cfg.Transcription.MinNoteSeconds,
		Velocity:            cfg.Transcription.Velocity,
		ConfidenceThreshold: cfg.Transcription.ConfidenceThreshold,
	}
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
