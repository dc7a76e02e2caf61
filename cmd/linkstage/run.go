package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/linkstage/internal/api"
	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/config"
	"github.com/AaronLay10/linkstage/internal/events"
	"github.com/AaronLay10/linkstage/internal/mqtt"
	"github.com/AaronLay10/linkstage/internal/stage"
	"github.com/AaronLay10/linkstage/internal/storage/postgres"
	"github.com/AaronLay10/linkstage/internal/version"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoMQTT       bool
	NoDB         bool
	RequireMQTT  bool
	Restore      bool
	RestoreLimit int
	FrameEvery   uint64
	LogEvents    bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the frame loop, API and transports",
		Long: `Run the wall-clock frame loop and serve insert and remove requests from
the HTTP API and MQTT command topics. Scene changes and frames are mirrored
to renderers over MQTT. Events are persisted to Postgres when reachable, and
the chain is rebuilt from them on startup.

Example:
  linkstage run --config stage.yaml
  linkstage run --no-mqtt --no-db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoMQTT, "no-mqtt", false, "do not connect to the MQTT broker")
	cmd.Flags().BoolVar(&opts.NoDB, "no-db", false, "do not persist events to Postgres")
	cmd.Flags().BoolVar(&opts.RequireMQTT, "require-mqtt", false, "report not ready while the broker is down")
	cmd.Flags().BoolVar(&opts.Restore, "restore", true, "rebuild the chain from persisted events")
	cmd.Flags().IntVar(&opts.RestoreLimit, "restore-limit", 10000, "maximum chain events replayed on restore")
	cmd.Flags().Uint64Var(&opts.FrameEvery, "frame-every", 2, "publish one frame in N to renderers")
	cmd.Flags().BoolVar(&opts.LogEvents, "log-events", false, "print every event as a JSON line on stdout")

	return cmd
}

func runStage(parent context.Context, opts *RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	stageOpts, err := cfg.StageOptions()
	if err != nil {
		return err
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.LogEvents {
		go printEvents(ctx)
	}

	hostname, _ := os.Hostname()
	if line, err := events.Emit("info", "system.startup", "linkstage starting", map[string]interface{}{
		"stage_id": cfg.StageID(),
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.Version,
	}); err == nil && !opts.LogEvents {
		fmt.Println(string(line))
	}

	api.InitMetrics(cfg.StageID())
	api.InitAuth(secrets)
	api.InitAlerts()
	if err := api.InitTLS(); err != nil {
		return err
	}

	pg := connectPostgres(cfg.StageID(), secrets, opts.NoDB)
	if pg != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := events.Flush(ctx); err != nil {
				log.Printf("postgres: %d events not persisted before shutdown", events.PersistDropped())
			}
			pg.Close()
		}()
	}

	loop := choreo.NewLoop()
	scene := stage.MultiScene{stage.NewMemoryScene()}

	var client *mqtt.Client
	var publisher *mqtt.ScenePublisher
	if !opts.NoMQTT {
		client = mqtt.NewClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.ClientID(),
			Username: cfg.MQTT.Username,
			Password: secrets.MQTTPassword,
		})
		publisher = mqtt.NewScenePublisher(client, cfg.TopicPrefix(), stageOpts.Palette.Background)
		publisher.Every = opts.FrameEvery
		scene = append(scene, publisher)
		loop.OnFrame(publisher.Frame)
	}

	chain := stage.NewChain(loop, scene, stageOpts)
	if opts.Restore && pg != nil {
		restoreChain(chain, pg, opts.RestoreLimit)
	}

	pipeline := choreo.NewPipeline(loop, chain)
	pipeline.StallTimeout = cfg.StallTimeout()

	api.SetChain(chain)
	api.SetQueue(pipeline)
	api.SetLoopStats(loop)

	var monitor *mqtt.Monitor
	if client != nil {
		monitor = mqtt.NewMonitor(2.0)
		commands := mqtt.NewCommandSubscriber(client, cfg.TopicPrefix(), pipeline)
		client.OnConnect(func() {
			if err := commands.SubscribeAll(); err != nil {
				log.Printf("mqtt: %v", err)
			}
			if err := client.Subscribe(mqtt.HelloTopic(cfg.TopicPrefix()), monitor.Handler()); err != nil {
				log.Printf("mqtt: %v", err)
			}
		})
		client.Start()
		defer client.Disconnect()
		api.SetRenderers(monitor)
	}

	g, gctx := errgroup.WithContext(ctx)
	if monitor != nil {
		g.Go(func() error {
			monitor.Run(gctx, 5*time.Second)
			return nil
		})
	}
	g.Go(func() error {
		return ignoreCanceled(loop.Run(gctx, choreo.WallClock(gctx, cfg.FrameInterval())))
	})
	g.Go(func() error {
		err := pipeline.Run(gctx)
		if errors.Is(err, choreo.ErrStalled) {
			// the API keeps serving so operators can see the stall
			log.Printf("pipeline stopped: %v", err)
			api.SetLoopReady(false)
			return nil
		}
		return ignoreCanceled(err)
	})
	g.Go(func() error {
		return api.Serve(gctx, cfg.UIPort())
	})
	g.Go(func() error {
		watchDependencies(gctx, client, pg, opts.RequireMQTT)
		return nil
	})

	api.SetLoopReady(true)
	api.StartAlertMonitor(gctx, 10*time.Second)

	err = g.Wait()
	api.SetLoopReady(false)
	events.Emit("info", "system.shutdown", "", map[string]interface{}{
		"completed": pipeline.Completed(),
		"pending":   pipeline.Pending(),
	})
	return err
}

// connectPostgres returns nil when persistence is disabled or unreachable;
// the stage runs without it.
func connectPostgres(stageID string, secrets config.Secrets, disabled bool) *postgres.Client {
	if disabled {
		api.SetPostgresStatus(false, true)
		return nil
	}
	if err := secrets.ExportPGPassword(); err != nil {
		log.Printf("postgres: %v", err)
	}
	pg, err := postgres.New(stageID)
	if err != nil {
		log.Printf("postgres unavailable, events will not be persisted: %v", err)
		api.SetPostgresStatus(false, true)
		return nil
	}
	events.SetPostgresClient(pg)
	api.SetPostgresStatus(true, true)
	return pg
}

// restoreChain runs before the loop starts, so it may touch the chain directly.
func restoreChain(chain *stage.Chain, pg *postgres.Client, limit int) {
	labels, err := stage.RestoreLabels(pg, limit)
	if errors.Is(err, stage.ErrHistoryTruncated) {
		log.Printf("restore: %v; keeping %d nodes", err, len(labels))
		events.Emit("warning", "system.error", "restore truncated", map[string]interface{}{
			"error": err.Error(),
			"nodes": len(labels),
		})
	} else if err != nil {
		events.Emit("error", "system.error", "restore failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := chain.Restore(labels); err != nil {
		log.Printf("restore: %v", err)
	}
}

// watchDependencies refreshes readiness from the broker and database.
func watchDependencies(ctx context.Context, client *mqtt.Client, pg *postgres.Client, requireMQTT bool) {
	update := func() {
		if client != nil {
			api.SetMQTTStatus(client.IsConnected(), !requireMQTT)
		} else {
			api.SetMQTTStatus(false, true)
		}
		if pg != nil {
			api.SetPostgresStatus(pg.Ping() == nil, true)
		}
	}
	update()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func printEvents(ctx context.Context) {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if b, err := json.Marshal(e); err == nil {
				fmt.Println(string(b))
			}
		}
	}
}
