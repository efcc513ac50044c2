// Package engine drives jobs through the translation pipeline. Each job is
// a small state machine: pending, chunking, terminology unification,
// translating, critiquing, revising, assembling, then completed or failed.
// Quick mode runs only chunking, translating, and assembling.
//
// Every state transition persists a snapshot before it is announced, so
// the store never lags behind what subscribers have seen.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/turjuman/internal/chunker"
	"github.com/valpere/turjuman/internal/critique"
	"github.com/valpere/turjuman/internal/detector"
	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/events"
	"github.com/valpere/turjuman/internal/glossary"
	"github.com/valpere/turjuman/internal/provider"
	"github.com/valpere/turjuman/internal/store"
	"github.com/valpere/turjuman/internal/translate"
	"github.com/valpere/turjuman/internal/validator"
)

// ErrNotFound mirrors the store's not-found for callers that only import
// the engine.
var ErrNotFound = store.ErrNotFound

// GeneratorFactory builds the text generator a job's config asks for.
type GeneratorFactory func(cfg domain.Config) (provider.Generator, error)

// Glossary selector values accepted at submission. Any other non-empty
// selector is treated as a stored glossary ID.
const (
	SelectorNone    = "none"
	SelectorDefault = "default"
	SelectorInline  = "inline"
)

// SubmitRequest carries everything needed to start a job.
type SubmitRequest struct {
	JobID            string
	OriginalContent  string
	OriginalFilename string
	Config           domain.Config
	GlossarySelector string
	InlineGlossary   []domain.GlossaryTerm
}

// Options configures an Engine.
type Options struct {
	Store      *store.Store
	Hub        *events.Hub
	Generators GeneratorFactory
	Pool       translate.Config
	// ValidateOutput enables target-language checking of generation
	// results. Costs detector startup on first use.
	ValidateOutput bool
	Logger         *slog.Logger
}

// Engine owns job execution. One engine serves all jobs; each job runs on
// its own goroutine with its own cancel.
type Engine struct {
	store   *store.Store
	hub     *events.Hub
	newGen  GeneratorFactory
	poolCfg translate.Config
	log     *slog.Logger

	validate bool
	detOnce  sync.Once
	det      *detector.Detector
	val      *validator.Validator

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    opts.Store,
		hub:      opts.Hub,
		newGen:   opts.Generators,
		poolCfg:  opts.Pool,
		log:      log,
		validate: opts.ValidateOutput,
		running:  make(map[string]context.CancelFunc),
	}
}

// lazyDetector builds the language detector on first use; model loading is
// too slow to pay at startup when no job needs detection.
func (e *Engine) lazyDetector() (*detector.Detector, *validator.Validator) {
	e.detOnce.Do(func() {
		e.det = detector.New()
		e.val = validator.NewWith(e.det)
	})
	return e.det, e.val
}

// Submit validates the request, persists the job in pending state, and
// starts it asynchronously. The returned job is the initial snapshot.
func (e *Engine) Submit(req SubmitRequest) (*domain.Job, error) {
	if strings.TrimSpace(req.OriginalContent) == "" {
		return nil, chunker.ErrEmptyDocument
	}

	cfg := req.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.SourceLang == "" || cfg.SourceLang == "auto" {
		det, _ := e.lazyDetector()
		if iso, ok := det.DetectISO(req.OriginalContent); ok {
			cfg.SourceLang = strings.ToLower(iso)
		} else {
			cfg.SourceLang = "auto"
		}
	}

	userGloss, err := e.selectGlossary(req)
	if err != nil {
		return nil, err
	}

	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	job := &domain.Job{
		ID:              id,
		Filename:        req.OriginalFilename,
		OriginalContent: req.OriginalContent,
		Config:          cfg,
		Status:          domain.JobPending,
		CurrentStep:     domain.StepPending,
		GlossarySource:  glossary.SourceNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()

	// The run goroutine works on its own copy. The pending job carries no
	// chunks or glossary yet, so a shallow copy shares nothing mutable and
	// the caller's snapshot is never written again by the engine.
	runJob := *job

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.running, id)
			e.mu.Unlock()
		}()
		e.run(ctx, &runJob, userGloss)
	}()

	return job, nil
}

// selectGlossary resolves the request's glossary selector against the
// store. A missing default glossary is not an error: the job proceeds
// without one.
func (e *Engine) selectGlossary(req SubmitRequest) (domain.Glossary, error) {
	switch req.GlossarySelector {
	case "", SelectorNone:
		return nil, nil
	case SelectorInline:
		gloss := domain.Glossary{}
		for _, term := range req.InlineGlossary {
			term.SourceTerm = strings.TrimSpace(term.SourceTerm)
			if term.SourceTerm == "" || len(term.Translations) == 0 {
				continue
			}
			gloss[glossary.TermKey(term.SourceTerm)] = term
		}
		return gloss, nil
	case SelectorDefault:
		ug, err := e.store.GetDefaultUserGlossary()
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return ug.Terms, nil
	default:
		ug, err := e.store.GetUserGlossary(req.GlossarySelector)
		if err != nil {
			return nil, fmt.Errorf("glossary %q: %w", req.GlossarySelector, err)
		}
		return ug.Terms, nil
	}
}

// validTransitions lists the steps each step may advance to. failed is
// reachable from every step and is handled separately.
var validTransitions = map[domain.Step][]domain.Step{
	domain.StepPending:     {domain.StepChunking},
	domain.StepChunking:    {domain.StepTerminology, domain.StepTranslating},
	domain.StepTerminology: {domain.StepTranslating},
	domain.StepTranslating: {domain.StepCritiquing, domain.StepAssembling},
	domain.StepCritiquing:  {domain.StepRevising},
	domain.StepRevising:    {domain.StepAssembling},
	domain.StepAssembling:  {domain.StepCompleted},
}

func isValidTransition(from, to domain.Step) bool {
	if from == to || to == domain.StepFailed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage progress weights. Each stage's share of the overall percentage;
// per stage they sum to 100.
var (
	quickWeights = map[domain.Step]float64{
		domain.StepChunking:    5,
		domain.StepTranslating: 85,
		domain.StepAssembling:  10,
	}
	deepWeights = map[domain.Step]float64{
		domain.StepChunking:    5,
		domain.StepTerminology: 5,
		domain.StepTranslating: 45,
		domain.StepCritiquing:  10,
		domain.StepRevising:    25,
		domain.StepAssembling:  10,
	}
)

// progressTracker converts (stage, fraction done) into a monotone overall
// percentage.
type progressTracker struct {
	weights map[domain.Step]float64
	order   []domain.Step
}

func newProgressTracker(mode domain.Mode) *progressTracker {
	if mode == domain.ModeDeep {
		return &progressTracker{
			weights: deepWeights,
			order: []domain.Step{
				domain.StepChunking, domain.StepTerminology, domain.StepTranslating,
				domain.StepCritiquing, domain.StepRevising, domain.StepAssembling,
			},
		}
	}
	return &progressTracker{
		weights: quickWeights,
		order:   []domain.Step{domain.StepChunking, domain.StepTranslating, domain.StepAssembling},
	}
}

// at returns the overall percentage with the given stage at fraction
// complete (0..1); earlier stages count as done.
func (p *progressTracker) at(step domain.Step, fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	var total float64
	for _, s := range p.order {
		if s == step {
			return total + p.weights[s]*fraction
		}
		total += p.weights[s]
	}
	return total
}

func (e *Engine) run(ctx context.Context, job *domain.Job, userGloss domain.Glossary) {
	log := e.log.With("job_id", job.ID)
	tracker := newProgressTracker(job.Config.TranslationMode)
	deep := job.Config.TranslationMode == domain.ModeDeep

	job.Status = domain.JobRunning
	job.Metrics.StartedAt = time.Now().UTC()
	job.Metrics.SourceWords = domain.CountWords(job.OriginalContent)

	gen, err := e.newGen(job.Config)
	if err != nil {
		e.fail(job, fmt.Errorf("provider setup: %w", err))
		return
	}

	var val *validator.Validator
	if e.validate {
		_, val = e.lazyDetector()
	}
	// Per-job concurrency and retry budget override the engine defaults.
	poolCfg := e.poolCfg
	if job.Config.MaxWorkers > 0 {
		poolCfg.MaxWorkers = job.Config.MaxWorkers
	}
	if job.Config.MaxAttempts > 0 {
		poolCfg.MaxAttempts = job.Config.MaxAttempts
	}
	pool := translate.New(gen, poolCfg, val, log)

	// Chunking.
	e.advance(job, domain.StepChunking, tracker.at(domain.StepChunking, 0))
	chunks, err := chunker.Split(job.OriginalContent, job.Config.MaxChunkSize)
	if err != nil {
		e.fail(job, fmt.Errorf("chunking: %w", err))
		return
	}
	job.Chunks = chunks
	log.Info("document split", "chunks", len(chunks))
	e.advance(job, domain.StepChunking, tracker.at(domain.StepChunking, 1))

	// Terminology unification (deep mode only).
	if deep {
		e.advance(job, domain.StepTerminology, tracker.at(domain.StepTerminology, 0))
		resolver := glossary.NewResolver(gen, log)
		gloss, source, usage := resolver.Resolve(ctx, job.OriginalContent, userGloss, job.Config)
		job.Glossary = gloss
		job.GlossarySource = source
		job.Metrics.AddUsage(usage.PromptTokens, usage.CompletionTokens)
		if err := e.store.ReplaceGlossary(job.ID, gloss); err != nil {
			log.Warn("persist glossary", "error", err)
		}
		log.Info("terminology resolved", "source", source, "terms", len(gloss))
		e.advance(job, domain.StepTerminology, tracker.at(domain.StepTerminology, 1))
	} else if len(userGloss) > 0 {
		// Quick mode still honors an explicitly supplied glossary.
		job.Glossary = userGloss
		job.GlossarySource = glossary.SourceUser
		if err := e.store.ReplaceGlossary(job.ID, userGloss); err != nil {
			log.Warn("persist glossary", "error", err)
		}
	}

	if ctx.Err() != nil {
		e.fail(job, fmt.Errorf("canceled: %w", ctx.Err()))
		return
	}

	// Translation.
	e.advance(job, domain.StepTranslating, tracker.at(domain.StepTranslating, 0))
	usage, failed := pool.TranslateAll(ctx, job.Chunks, job.Glossary, job.Config,
		e.chunkProgress(job, tracker, domain.StepTranslating))
	job.Metrics.AddUsage(usage.PromptTokens, usage.CompletionTokens)
	if failed > 0 {
		e.fail(job, fmt.Errorf("translation failed for %d of %d chunks", failed, len(job.Chunks)))
		return
	}
	e.advance(job, domain.StepTranslating, tracker.at(domain.StepTranslating, 1))

	if deep {
		// Critique.
		e.advance(job, domain.StepCritiquing, tracker.at(domain.StepCritiquing, 0))
		critic := critique.New(gen, log)
		verdict, cUsage, err := critic.Review(ctx, job.Chunks, job.Glossary, job.Config)
		job.Metrics.AddUsage(cUsage.PromptTokens, cUsage.CompletionTokens)
		if err != nil {
			// An unreviewable translation cannot be vouched for.
			e.fail(job, fmt.Errorf("critique: %w", err))
			return
		}
		job.Critique = verdict
		if verdict.HasCriticalError {
			e.fail(job, fmt.Errorf("critique found critical errors: %s", strings.Join(verdict.Issues, "; ")))
			return
		}
		for i := range job.Chunks {
			if job.Chunks[i].Status == domain.ChunkTranslated {
				job.Chunks[i].Status = domain.ChunkCritiqued
			}
		}
		e.advance(job, domain.StepCritiquing, tracker.at(domain.StepCritiquing, 1))

		// Revision.
		e.advance(job, domain.StepRevising, tracker.at(domain.StepRevising, 0))
		rUsage, _ := pool.ReviseAll(ctx, job.Chunks, job.Glossary, verdict, job.Config,
			e.chunkProgress(job, tracker, domain.StepRevising))
		job.Metrics.AddUsage(rUsage.PromptTokens, rUsage.CompletionTokens)
		e.advance(job, domain.StepRevising, tracker.at(domain.StepRevising, 1))
	}

	if ctx.Err() != nil {
		e.fail(job, fmt.Errorf("canceled: %w", ctx.Err()))
		return
	}

	// Assembly.
	e.advance(job, domain.StepAssembling, tracker.at(domain.StepAssembling, 0))
	final := chunker.Assemble(job.Chunks)
	job.FinalDocument = &final
	job.Metrics.TargetWords = domain.CountWords(final)

	now := time.Now().UTC()
	job.Metrics.FinishedAt = &now
	job.Status = domain.JobCompleted
	job.CurrentStep = domain.StepCompleted
	job.Progress = 100
	job.UpdatedAt = now
	if err := e.store.SaveSnapshot(job); err != nil {
		log.Error("persist completed job", "error", err)
	}
	log.Info("job completed",
		"chunks", len(job.Chunks),
		"tokens", job.Metrics.TotalTokens,
		"duration", now.Sub(job.Metrics.StartedAt))
	e.hub.Finish(job.ID, e.update(job))
}

// chunkProgress returns the per-chunk callback that persists chunk state
// and publishes fractional stage progress as chunks finish. The pool
// serializes callback invocations, so no extra locking is needed here.
func (e *Engine) chunkProgress(job *domain.Job, tracker *progressTracker, step domain.Step) func(int) {
	total := 0
	return func(int) {
		total++
		job.Progress = tracker.at(step, float64(total)/float64(len(job.Chunks)))
		job.UpdatedAt = time.Now().UTC()
		if err := e.store.SaveSnapshot(job); err != nil {
			e.log.Warn("persist chunk progress", "job_id", job.ID, "error", err)
		}
		e.hub.Publish(job.ID, e.update(job))
	}
}

// advance moves the job to step at the given overall progress, persists,
// and publishes. An out-of-order transition is a pipeline bug; it is
// logged loudly and refused rather than corrupting the job's history.
func (e *Engine) advance(job *domain.Job, step domain.Step, progress float64) {
	if !isValidTransition(job.CurrentStep, step) {
		e.log.Error("refusing invalid step transition",
			"job_id", job.ID, "from", job.CurrentStep, "to", step)
		return
	}
	job.CurrentStep = step
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveSnapshot(job); err != nil {
		e.log.Warn("persist transition", "job_id", job.ID, "step", step, "error", err)
	}
	e.hub.Publish(job.ID, e.update(job))
}

// fail marks the job failed, keeping whatever per-chunk work succeeded.
// FinalDocument stays nil: a failed job never publishes partial output as
// the document.
func (e *Engine) fail(job *domain.Job, cause error) {
	now := time.Now().UTC()
	job.Status = domain.JobFailed
	job.CurrentStep = domain.StepFailed
	job.ErrorInfo = cause.Error()
	job.FinalDocument = nil
	job.Metrics.FinishedAt = &now
	job.UpdatedAt = now
	if err := e.store.SaveSnapshot(job); err != nil {
		e.log.Error("persist failed job", "job_id", job.ID, "error", err)
	}
	e.log.Warn("job failed", "job_id", job.ID, "error", cause)
	e.hub.Finish(job.ID, e.update(job))
}

func (e *Engine) update(job *domain.Job) events.Update {
	u := events.Update{
		Status:    job.Status,
		Step:      job.CurrentStep,
		Progress:  job.Progress,
		ErrorInfo: job.ErrorInfo,
	}
	for _, c := range job.Chunks {
		u.Chunks = append(u.Chunks, events.ChunkState{Index: c.Index, Status: c.Status})
	}
	return u
}

// Get loads a job snapshot.
func (e *Engine) Get(id string) (*domain.Job, error) {
	return e.store.GetJob(id)
}

// List returns job summaries, newest first.
func (e *Engine) List() ([]store.JobSummary, error) {
	return e.store.ListJobs()
}

// Subscribe attaches to a job's live update stream.
func (e *Engine) Subscribe(id string) *events.Subscription {
	return e.hub.Subscribe(id)
}

// Delete cancels the job if running and removes it from the store.
// Deleting an unknown job is not an error.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	if cancel, ok := e.running[id]; ok {
		cancel()
	}
	e.mu.Unlock()
	e.hub.Drop(id)
	return e.store.DeleteJob(id)
}

// Shutdown waits for running jobs to finish or ctx to expire; on expiry
// remaining jobs are canceled.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for _, cancel := range e.running {
			cancel()
		}
		e.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
