// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Cellflow runs a demonstration dataflow program against the host
// kernel library: constant construction, elementwise arithmetic, a
// conditional, and token-sequenced prints, across a configurable
// number of concurrent pipelines.
//
// Configuration is read from an optional TOML file and overridden by
// flags:
//
//	cellflow -config cellflow.toml -pipelines 4 -debug
package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/cellflow"
	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/dispatch"
	"github.com/grailbio/cellflow/kernels"
	"github.com/grailbio/cellflow/log"
	"github.com/grailbio/cellflow/values"
	"github.com/grailbio/cellflow/work"
	"golang.org/x/sync/errgroup"
)

type config struct {
	// Workers bounds concurrent kernel bodies; 0 sizes the pool to
	// the number of CPUs.
	Workers int `toml:"workers"`
	// Pipelines is the number of concurrent demo pipelines to run.
	Pipelines int `toml:"pipelines"`
	// Debug enables debug logging.
	Debug bool `toml:"debug"`
}

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML configuration")
		workers    = flag.Int("workers", 0, "worker pool size (0 = NumCPU)")
		pipelines  = flag.Int("pipelines", 1, "number of concurrent pipelines")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg := config{Pipelines: 1}
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			log.Fatalf("config %s: %v", *configPath, err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = *workers
		case "pipelines":
			cfg.Pipelines = *pipelines
		case "debug":
			cfg.Debug = *debug
		}
	})

	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	logger := log.New(golog.New(os.Stderr, "", golog.LstdFlags), level)

	pool := work.NewPool(cfg.Workers)
	registry := cellflow.NewRegistry()
	registry.Add(kernels.Host(pool))
	d := &dispatch.Dispatcher{Registry: registry, Log: logger}

	host, err := d.Registry.Handler("host")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Pipelines; i++ {
		i := i
		g.Go(func() error {
			return runPipeline(ctx, d, host, i)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	if err := pool.Wait(ctx); err != nil {
		log.Fatal(err)
	}
}

// runPipeline issues one demo dataflow: two constants, their sum,
// a conditional that negates the sum only for odd pipelines, and two
// prints sequenced by completion tokens.
func runPipeline(ctx context.Context, d *dispatch.Dispatcher, host *cellflow.Handler, i int) error {
	shape := values.Shape{2, 2}
	a := d.Execute(ctx, host, "const.dense", nil, cellflow.Attrs{
		"dtype": cellflow.DtypeAttr(values.F64),
		"shape": cellflow.ShapeAttr(shape),
		"value": cellflow.FloatsAttr(1, 2, 3, 4),
	}, 1)
	b := d.Execute(ctx, host, "const.dense", nil, cellflow.Attrs{
		"dtype": cellflow.DtypeAttr(values.F64),
		"shape": cellflow.ShapeAttr(shape),
		"value": cellflow.FloatsAttr(10, 20, 30, 40),
	}, 1)
	sum := d.Execute(ctx, host, "add", refs(a[0], b[0]), nil, 1)

	pred := d.Execute(ctx, host, "const.dense", nil, cellflow.Attrs{
		"dtype": cellflow.DtypeAttr(values.I32),
		"shape": cellflow.ShapeAttr(values.Shape{}),
		"value": cellflow.FloatsAttr(float64(i % 2)),
	}, 1)
	negate := &cellflow.Fn{
		Name: "negate", NArgs: 1, NResults: 1,
		Body: func(ctx context.Context, args []async.Ref[cellflow.Artifact]) []async.Ref[cellflow.Artifact] {
			return refs(d.Execute(ctx, host, "neg", args, nil, 1)[0])
		},
	}
	keep := &cellflow.Fn{
		Name: "keep", NArgs: 1, NResults: 1,
		Body: func(ctx context.Context, args []async.Ref[cellflow.Artifact]) []async.Ref[cellflow.Artifact] {
			return refs(d.Execute(ctx, host, "identity", args, nil, 1)[0])
		},
	}
	final := d.Cond(ctx, negate, keep, refs(pred[0], sum[0]), 1)

	// Two prints ordered by a token chain: the sum always appears
	// before the conditional's result.
	_, t1 := d.ExecuteSeq(ctx, host, "print", refs(sum[0]), nil, 0, async.Ready())
	_, t2 := d.ExecuteSeq(ctx, host, "print", refs(final[0]), nil, 0, t1)
	if err := async.Wait(ctx, t2); err != nil {
		return fmt.Errorf("pipeline %d: %w", i, err)
	}
	return nil
}

// refs widens indirect result cells to argument refs.
func refs(cells ...*async.Indirect[cellflow.Artifact]) []async.Ref[cellflow.Artifact] {
	out := make([]async.Ref[cellflow.Artifact], len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
