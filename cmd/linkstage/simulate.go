package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/stage"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Inserts   int
	Removes   int
	Labels    []string
	Delta     time.Duration
	MaxFrames uint64
}

// SimulateResult is the outcome of a headless run.
type SimulateResult struct {
	Frames     uint64            `json:"frames"`
	Simulated  string            `json:"simulated"`
	Completed  int               `json:"completed"`
	Rejected   int               `json:"rejected"`
	Placements []stage.Placement `json:"placements"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run choreographies headlessly with a fixed frame delta",
		Long: `Run a batch of insert and remove requests through the pipeline without
a renderer, advancing the frame loop by a fixed delta, and print the
resulting placements.

Example:
  linkstage simulate --insert 3
  linkstage simulate --labels head,mid,tail --remove 1 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Inserts, "insert", 0, "number of unlabelled inserts")
	cmd.Flags().StringSliceVar(&opts.Labels, "labels", nil, "labelled inserts, applied before --insert")
	cmd.Flags().IntVar(&opts.Removes, "remove", 0, "number of removals after the inserts")
	cmd.Flags().DurationVar(&opts.Delta, "delta", 0, "frame delta (defaults to the configured frame interval)")
	cmd.Flags().Uint64Var(&opts.MaxFrames, "max-frames", 1_000_000, "abort if the batch has not finished after this many frames")

	return cmd
}

func (o *SimulateOptions) requests() []choreo.Request {
	var reqs []choreo.Request
	for _, l := range o.Labels {
		reqs = append(reqs, choreo.Request{Op: choreo.OpInsert, Index: -1, Label: l})
	}
	for i := 0; i < o.Inserts; i++ {
		reqs = append(reqs, choreo.Request{Op: choreo.OpInsert, Index: -1})
	}
	for i := 0; i < o.Removes; i++ {
		reqs = append(reqs, choreo.Request{Op: choreo.OpRemove, Index: -1})
	}
	return reqs
}

func runSimulate(parent context.Context, opts *SimulateOptions, out io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	stageOpts, err := cfg.StageOptions()
	if err != nil {
		return err
	}
	delta := opts.Delta
	if delta <= 0 {
		delta = cfg.FrameInterval()
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	loop := choreo.NewLoop()
	chain := stage.NewChain(loop, stage.NewMemoryScene(), stageOpts)
	pipeline := choreo.NewPipeline(loop, chain)

	reqs := opts.requests()
	for _, r := range reqs {
		pipeline.Enqueue(r)
	}

	ticks := make(chan time.Duration)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(loop.Run(gctx, ticks)) })
	g.Go(func() error { return ignoreCanceled(pipeline.Run(gctx)) })

	// the clock: feed fixed deltas until every request has been handled
	g.Go(func() error {
		defer close(ticks)
		var sent uint64
		for pipeline.Completed()+pipeline.Rejected() < len(reqs) {
			if sent >= opts.MaxFrames {
				return fmt.Errorf("batch not finished after %d frames", sent)
			}
			select {
			case ticks <- delta:
				sent++
			case <-gctx.Done():
				return nil
			}
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// the loop has exited; chain state is safe to read here
	frames := loop.Frames()
	result := SimulateResult{
		Frames:     frames,
		Simulated:  (time.Duration(frames) * delta).String(),
		Completed:  pipeline.Completed(),
		Rejected:   pipeline.Rejected(),
		Placements: chain.Placements(),
	}
	return writeResult(out, opts.Format, result)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func writeResult(out io.Writer, format string, r SimulateResult) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "frames=%d simulated=%s completed=%d rejected=%d\n",
		r.Frames, r.Simulated, r.Completed, r.Rejected)
	for _, p := range r.Placements {
		fmt.Fprintf(&b, "%d\t%s\tx=%g\n", p.Index, p.Label, p.X)
	}
	_, err := io.WriteString(out, b.String())
	return err
}
