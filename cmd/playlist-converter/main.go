package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/ytget/playlist-converter/internal/config"
	"github.com/ytget/playlist-converter/internal/conversion"
	"github.com/ytget/playlist-converter/internal/manifest"
	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/platform"
	"github.com/ytget/playlist-converter/internal/relay"
	"github.com/ytget/playlist-converter/internal/server"
	"github.com/ytget/playlist-converter/internal/storage"
	"github.com/ytget/playlist-converter/internal/transcode"
	"github.com/ytget/playlist-converter/internal/worker"
)

const (
	AppName      = "playlist-converter"
	CommandServe = "serve"
	PingTimeout  = 3 * time.Second
)

func main() {
	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [flags] <playlist-url>\n  %s [flags] %s\n\nFlags:\n", AppName, AppName, CommandServe)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) != 1 {
		flags.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	converter, err := newConverter(settings)
	if err != nil {
		log.Fatalf("Failed to initialize converter: %v", err)
	}

	if args[0] == CommandServe {
		runServe(settings, converter)
		return
	}
	os.Exit(runOnce(settings, converter, args[0]))
}

// newConverter wires the resolvers, transcoder, storage and manifest writer
func newConverter(settings *config.Settings) (*conversion.Service, error) {
	musicDir := settings.GetMusicDir()
	tempDir := settings.GetTempDir()
	if err := platform.CreateDirectoryIfNotExists(tempDir); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	transcoder := transcode.NewService(tempDir)
	transcoder.SetFFmpegPath(settings.GetFFmpegPath())
	transcoder.SetLogOutput(settings.GetLogOutput())
	if !transcoder.Available() {
		log.Printf("Warning: %s not found, every item will fail to convert", settings.GetFFmpegPath())
	}

	materializer, err := storage.NewMaterializer(settings.GetStorageMode(), musicDir)
	if err != nil {
		return nil, err
	}

	timeout := settings.GetHTTPTimeout()
	youtubeResolver := platform.NewYouTubeResolver(timeout)
	var playlists conversion.PlaylistResolver = youtubeResolver
	if settings.GetResolverBackend() == config.ResolverYTDLP {
		ytdlpResolver := platform.NewYTDLPPlaylistResolver()
		ytdlpResolver.SetTimeout(timeout)
		playlists = ytdlpResolver
	}

	converter := conversion.NewService(conversion.Dependencies{
		Playlists:    playlists,
		Streams:      youtubeResolver,
		Transcoder:   transcoder,
		Materializer: materializer,
		Manifest:     manifest.NewWriter(),
	}, musicDir)
	converter.SetHardCancel(settings.GetHardCancel())

	log.Printf("Music directory: %s (storage %s, resolver %s)", musicDir, settings.GetStorageMode(), settings.GetResolverBackend())
	return converter, nil
}

// runOnce converts a single playlist in the foreground. The first interrupt
// cancels the job, the second tears the converter down.
func runOnce(settings *config.Settings, converter *conversion.Service, url string) int {
	subscription := converter.Subscribe(settings.GetEventBuffer())
	converter.SetStateCallback(func(state model.JobState) {
		log.Printf("Job state: %s", state)
	})

	if _, err := converter.Start(url); err != nil {
		log.Printf("Failed to start conversion: %v", err)
		converter.Close()
		return 1
	}

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := converter.Done()
	interrupts := 0
	events := subscription.Events()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(event)

		case <-quit:
			interrupts++
			if interrupts == 1 {
				fmt.Println("Cancelling, press Ctrl+C again to stop immediately")
				converter.CancelAll()
				continue
			}
			converter.Close()
			return 130

		case <-done:
			// Drain what was published before the job terminated
			for len(events) > 0 {
				printEvent(<-events)
			}
			converter.Close()
			result, ok := converter.LastResult()
			if !ok || !result.Succeeded() {
				return 1
			}
			return 0
		}
	}
}

func printEvent(event model.Event) {
	switch event.Type {
	case model.EventQueueReady:
		fmt.Printf("Queued %d items\n", len(event.Items))

	case model.EventItemUpdated:
		if event.Item == nil {
			return
		}
		item := event.Item
		line := fmt.Sprintf("[%d] %s: %s", item.Index+1, item.DisplayTitle(), item.Status)
		switch {
		case item.Error != "":
			line += " - " + item.Error
		case item.ProgressText != "":
			line += " - " + item.ProgressText
		}
		fmt.Println(line)

	case model.EventQueueUpdated:
		for _, item := range event.Items {
			if item.Status == model.ItemStatusCancelled {
				fmt.Printf("[%d] %s: %s\n", item.Index+1, item.DisplayTitle(), item.Status)
			}
		}

	case model.EventJobFinished:
		if event.Result == nil {
			return
		}
		result := event.Result
		if result.Error != "" {
			fmt.Printf("Job failed: %s\n", result.Error)
			return
		}
		fmt.Printf("Done: %d completed, %d failed, %d cancelled of %d\n",
			result.Completed, result.Failed, result.Cancelled, result.Total)
		if result.ManifestPath != "" {
			fmt.Printf("Playlist: %s\n", result.ManifestPath)
		}
	}
}

// runServe exposes the converter over HTTP. With Redis configured it also
// relays events, rate limits starts and consumes queued conversions.
func runServe(settings *config.Settings, converter *conversion.Service) {
	redisCfg := settings.GetRedis()
	opts := server.Options{
		JWTSecret:    settings.GetJWTSecret(),
		StartPerHour: settings.GetStartPerHour(),
		EventBuffer:  settings.GetEventBuffer(),
	}

	var asynqServer *asynq.Server
	if redisCfg.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), PingTimeout)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis not available: %v", err)
		}
		cancel()
		opts.Redis = redisClient

		eventRelay := relay.NewRedisRelay(redisClient, redisCfg.Channel)
		eventRelay.Attach(converter, settings.GetEventBuffer())
		defer eventRelay.Detach()

		redisOpt := asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		enqueuer := worker.NewEnqueuer(asynqClient)
		enqueuer.SetTaskTimeout(settings.GetTaskTimeout())
		opts.Enqueuer = enqueuer

		asynqServer = startWorkerServer(redisOpt, converter)
	}

	srv := server.New(converter, opts)

	go func() {
		if err := srv.Listen(":" + settings.GetServerPort()); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	converter.CancelAll()
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if err := srv.Shutdown(); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	converter.Close()

	log.Println("Server exited")
}

func startWorkerServer(redisOpt asynq.RedisClientOpt, converter *conversion.Service) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		// One job at a time, the converter rejects concurrent starts
		Concurrency: 1,
		Queues: map[string]int{
			worker.QueueConvert: 1,
		},
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeConvert, worker.NewConvertWorker(converter).ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
		return nil
	}
	return srv
}
