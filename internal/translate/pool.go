// Package translate runs the per-chunk generation stages: initial
// translation and critique-driven revision. Both stages share one bounded
// worker pool with retry, backoff, and target-language validation.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/provider"
	"github.com/valpere/turjuman/internal/validator"
)

// Config tunes pool behavior. Zero values fall back to domain defaults.
type Config struct {
	MaxWorkers  int
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = domain.DefaultMaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Pool translates chunks concurrently through a Generator.
type Pool struct {
	gen provider.Generator
	cfg Config
	val *validator.Validator
	log *slog.Logger
}

// New creates a Pool. val may be nil to skip language validation.
func New(gen provider.Generator, cfg Config, val *validator.Validator, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{gen: gen, cfg: cfg.withDefaults(), val: val, log: log}
}

// TranslateAll translates every chunk. Success sets TranslatedText and
// ChunkTranslated, failure sets Error and ChunkFailed. onChunk, when
// non-nil, is called after each chunk commits with the chunk index; calls
// are serialized, and the chunks slice is stable while one runs.
//
// The returned failed count is the number of chunks that exhausted their
// attempts; successfully translated chunks keep their results regardless.
func (p *Pool) TranslateAll(ctx context.Context, chunks []domain.Chunk, glossary domain.Glossary, jobCfg domain.Config, onChunk func(int)) (provider.Usage, int) {
	return p.runStage(ctx, chunks, onChunk, func(ctx context.Context, c domain.Chunk) (domain.Chunk, provider.Usage) {
		prompt := buildTranslationPrompt(c.SourceText, glossary, jobCfg)
		text, usage, err := p.generateWithRetry(ctx, prompt, jobCfg)
		if err != nil {
			c.Status = domain.ChunkFailed
			c.Error = err.Error()
			return c, usage
		}
		c.TranslatedText = text
		c.RefinedText = ""
		c.Error = ""
		c.Status = domain.ChunkTranslated
		return c, usage
	})
}

// ReviseAll re-generates translated chunks guided by the critique's
// findings. A chunk whose revision fails keeps its original translation:
// revision improves quality but never loses completed work.
func (p *Pool) ReviseAll(ctx context.Context, chunks []domain.Chunk, glossary domain.Glossary, critique *domain.Critique, jobCfg domain.Config, onChunk func(int)) (provider.Usage, int) {
	return p.runStage(ctx, chunks, onChunk, func(ctx context.Context, c domain.Chunk) (domain.Chunk, provider.Usage) {
		if c.Status != domain.ChunkCritiqued && c.Status != domain.ChunkTranslated {
			return c, provider.Usage{}
		}
		prompt := buildRevisionPrompt(c.SourceText, c.TranslatedText, glossary, critique, c.Index, jobCfg)
		text, u, err := p.generateWithRetry(ctx, prompt, jobCfg)
		if err != nil {
			p.log.Warn("revision failed, keeping original translation",
				"chunk", c.Index, "error", err)
			c.RefinedText = ""
			c.Status = domain.ChunkTranslated
			return c, u
		}
		c.RefinedText = text
		c.Status = domain.ChunkRefined
		return c, u
	})
}

// runStage fans work out over MaxWorkers goroutines and waits for all
// chunks. Workers operate on chunk copies; results are committed back into
// the slice under one lock, and onChunk runs under the same lock so
// callers may read the whole slice from it without racing in-flight
// workers.
func (p *Pool) runStage(ctx context.Context, chunks []domain.Chunk, onChunk func(int), work func(context.Context, domain.Chunk) (domain.Chunk, provider.Usage)) (provider.Usage, int) {
	indexes := make(chan int)

	var (
		mu     sync.Mutex
		usage  provider.Usage
		failed int
		wg     sync.WaitGroup
	)

	workers := p.cfg.MaxWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				done, u := work(ctx, chunks[i])
				mu.Lock()
				chunks[i] = done
				usage.Add(u)
				if done.Status == domain.ChunkFailed {
					failed++
				}
				if onChunk != nil {
					onChunk(i)
				}
				mu.Unlock()
			}
		}()
	}

	for i := range chunks {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return usage, failed
}

// generateWithRetry calls the generator up to MaxAttempts times with
// exponential backoff and jitter. Fatal errors abort immediately. An empty
// result or a wrong-language result counts as a transient failure.
func (p *Pool) generateWithRetry(ctx context.Context, prompt string, jobCfg domain.Config) (string, provider.Usage, error) {
	var (
		usage   provider.Usage
		lastErr error
	)

	timeout := p.cfg.Timeout
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", usage, provider.Fatal("generate", err)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		res, err := p.gen.Generate(callCtx, prompt, provider.Params{Model: jobCfg.Model})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			usage.Add(res.Usage)
			err = p.checkOutput(res.Text, jobCfg.TargetLang)
			if err == nil {
				return res.Text, usage, nil
			}
		}
		lastErr = err

		if provider.IsFatal(err) {
			break
		}
		if attempt < p.cfg.MaxAttempts {
			delay := p.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(p.cfg.RetryDelay)))
			p.log.Debug("retrying generation", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", usage, provider.Fatal("generate", ctx.Err())
			}
		}
	}

	return "", usage, fmt.Errorf("generation failed after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

// checkOutput rejects empty and wrong-language results as transient so the
// retry loop gets another attempt at them.
func (p *Pool) checkOutput(text, targetLang string) error {
	if strings.TrimSpace(text) == "" {
		return provider.Transient("validate", fmt.Errorf("empty generation result"))
	}
	if p.val == nil {
		return nil
	}
	if err := p.val.Check(text, targetLang); err != nil {
		return provider.Transient("validate", err)
	}
	return nil
}
