package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/inference"
	"github.com/sells-group/route-tagger/internal/queue"
	"github.com/sells-group/route-tagger/internal/request"
	"github.com/sells-group/route-tagger/internal/store"
	"github.com/sells-group/route-tagger/internal/tagging"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

// taggerEnv holds everything the tag and queue commands need.
type taggerEnv struct {
	Ledger store.Ledger
	Driver *tagging.Driver
}

// Close releases resources held by the environment.
func (te *taggerEnv) Close() {
	if te.Ledger != nil {
		_ = te.Ledger.Close()
	}
}

// initTagger validates config for mode, opens the ledger and builds the
// inference backend and tagging driver. Callers should defer env.Close().
func initTagger(ctx context.Context, mode string) (*taggerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	tax, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, err
	}

	svc, err := inference.New(cfg.Inference)
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}

	mgr := batch.NewManager(svc, batch.ConfigFrom(cfg.Batch, cfg.Queue))
	return &taggerEnv{
		Ledger: ledger,
		Driver: tagging.New(mgr, requestParams(cfg.Inference), tax, ledger),
	}, nil
}

func requestParams(c config.InferenceConfig) request.Params {
	p := request.DefaultParams()
	if c.Model != "" {
		p.Model = c.Model
	}
	if c.Temperature > 0 {
		p.Temperature = c.Temperature
	}
	if c.MaxTokens > 0 {
		p.MaxTokens = c.MaxTokens
	}
	if c.TopP > 0 {
		p.TopP = c.TopP
	}
	return p
}

func queueConfig() queue.Config {
	return queue.ConfigFrom(cfg.Queue, cfg.Prompts)
}
