package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/checkpoint"
	"github.com/spacesedan/sentibatch/internal/headlines"
	"github.com/spacesedan/sentibatch/internal/models"
	"github.com/spacesedan/sentibatch/internal/utils"
)

// finalExportTimeout bounds the export that follows an interrupted run.
const finalExportTimeout = 10 * time.Second

// Classifier turns one headline into verdict text. Implementations must
// not fail: problems are reported as models.VerdictUnknown.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, headline models.Headline) string
}

// Exporter receives the entries covered by each checkpoint write.
type Exporter interface {
	Export(ctx context.Context, entries []models.VerdictEntry)
}

type Options struct {
	InputPath       string
	CheckpointPath  string
	HeadlineColumn  string
	Fraction        float64
	CheckpointEvery int
	Strategy        Strategy
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputPath:       cfg.InputPath,
		CheckpointPath:  cfg.CheckpointPath,
		HeadlineColumn:  cfg.HeadlineColumn,
		Fraction:        cfg.Fraction,
		CheckpointEvery: cfg.CheckpointEvery,
		Strategy:        Strategy(cfg.ResumeStrategy),
	}
}

// Result summarizes one run.
type Result struct {
	RunID          string
	Record         *models.SentimentRecord
	WorkingSetSize int
	ResumeIndex    int
	Processed      int
	Saves          int
}

// Runner drives one resumable classification pass over a CSV file.
// It is single-use and not safe for concurrent use.
type Runner struct {
	opts       Options
	classifier Classifier
	exporter   Exporter
	store      *checkpoint.Store
	pending    *utils.BatchBuffer[models.VerdictEntry]
	runID      string
	now        func() time.Time
	state      State
}

// New returns a Runner. exporter may be nil.
func New(opts Options, classifier Classifier, exporter Exporter) *Runner {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = utils.BATCH_SIZE
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyMembership
	}
	return &Runner{
		opts:       opts,
		classifier: classifier,
		exporter:   exporter,
		store:      checkpoint.NewStore(opts.CheckpointPath),
		pending:    utils.NewBatchBuffer[models.VerdictEntry](opts.CheckpointEvery),
		runID:      uuid.NewString(),
		now:        time.Now,
		state:      StateIdle,
	}
}

func (r *Runner) State() State {
	return r.state
}

func (r *Runner) setState(s State) {
	slog.Debug("[Runner] State change",
		slog.String("from", r.state.String()),
		slog.String("to", s.String()))
	r.state = s
}

// Run loads the working set and any prior checkpoint, classifies every
// pending headline in order and checkpoints as it goes. On cancellation it
// saves what it has and returns the context error together with the
// partial result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: r.runID}

	r.setState(StateLoading)
	slog.Info("[Runner] Loading news data...", slog.String("input", r.opts.InputPath))
	all, err := headlines.Load(r.opts.InputPath, r.opts.HeadlineColumn)
	if err != nil {
		return nil, fmt.Errorf("load headlines: %w", err)
	}
	workingSet := headlines.WorkingSet(all, r.opts.Fraction)
	res.WorkingSetSize = len(workingSet)
	slog.Info("[Runner] Total titles to process",
		slog.Int("count", len(workingSet)),
		slog.Int("loaded", len(all)))

	r.setState(StateResuming)
	rec, found, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	res.Record = rec
	if found {
		slog.Info("[Runner] Loaded checkpoint",
			slog.String("path", r.store.Path()),
			slog.Int("entries", rec.Len()))
	}

	positions, resumeIndex := planPending(workingSet, rec, r.opts.Strategy)
	res.ResumeIndex = resumeIndex
	slog.Info("[Runner] Resuming from index",
		slog.Int("index", resumeIndex),
		slog.Int("pending", len(positions)),
		slog.String("strategy", string(r.opts.Strategy)))

	r.setState(StateProcessing)
	for i, pos := range positions {
		if ctx.Err() != nil {
			return res, r.interrupt(ctx, res)
		}

		headline := workingSet[pos]
		slog.Info("[Runner] Processing title",
			slog.Int("position", pos+1),
			slog.Int("total", len(workingSet)),
			slog.String("headline", string(headline)))

		verdict := r.classifier.Classify(ctx, headline)
		if ctx.Err() != nil {
			// the call was cut short, so its verdict says nothing about the headline
			return res, r.interrupt(ctx, res)
		}

		rec.Set(headline, verdict)
		r.pending.Add(models.VerdictEntry{
			RunID:        r.runID,
			Position:     pos + 1,
			HeadlineID:   headline.ID(),
			Headline:     headline,
			Verdict:      verdict,
			Classifier:   r.classifier.Name(),
			ClassifiedAt: r.now().UTC(),
		})
		res.Processed++

		if (pos+1)%r.opts.CheckpointEvery == 0 || i == len(positions)-1 {
			if err := r.checkpoint(ctx, rec, res); err != nil {
				return res, err
			}
			r.setState(StateProcessing)
		}
	}

	r.setState(StateDone)
	slog.Info("[Runner] Sentiment analysis completed",
		slog.Int("processed", res.Processed),
		slog.Int("total", rec.Len()))
	return res, nil
}

func (r *Runner) checkpoint(ctx context.Context, rec *models.SentimentRecord, res *Result) error {
	r.setState(StateCheckpointing)
	if err := r.store.Save(rec); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	res.Saves++
	slog.Info("[Runner] Progress saved",
		slog.Int("stored", rec.Len()),
		slog.String("path", r.store.Path()))

	r.pending.LogBatchProcessing("checkpoint")
	entries := r.pending.GetAndClear()
	if r.exporter != nil {
		r.exporter.Export(ctx, entries)
	}
	return nil
}

// interrupt persists unsaved progress after cancellation.
func (r *Runner) interrupt(ctx context.Context, res *Result) error {
	cause := ctx.Err()
	slog.Warn("[Runner] Interrupted, saving progress",
		slog.Int("processed", res.Processed),
		slog.Int("unsaved", r.pending.Size()))

	if r.pending.HasData() {
		exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalExportTimeout)
		defer cancel()
		if err := r.checkpoint(exportCtx, res.Record, res); err != nil {
			// nothing was saved; report a failure, not a cancellation
			return fmt.Errorf("interrupted (%v) and could not save progress: %w", cause, err)
		}
	}
	r.setState(StateDone)
	return cause
}
