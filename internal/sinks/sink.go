package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/models"
)

const exportTimeout = 30 * time.Second

// Sink receives every batch of verdicts that has just been checkpointed.
type Sink interface {
	Name() string
	Export(ctx context.Context, entries []models.VerdictEntry) error
	Close() error
}

// Fanout forwards batches to each sink. A failing sink is logged and does
// not affect the others or the caller.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Open builds the sinks named in cfg.Sinks. Sinks opened before a failure
// are closed again.
func Open(ctx context.Context, cfg *config.Config) (*Fanout, error) {
	f := &Fanout{}
	for _, name := range cfg.Sinks {
		var (
			s   Sink
			err error
		)
		switch name {
		case config.SinkValkey:
			s, err = NewValkeySink(ctx, cfg.Valkey)
		case config.SinkDynamoDB:
			s, err = NewDynamoDBSink(ctx, cfg.DynamoDB)
		case config.SinkKafka:
			s, err = NewKafkaSink(cfg.Kafka)
		default:
			err = fmt.Errorf("unknown result sink %q", name)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s sink: %w", name, err)
		}
		f.sinks = append(f.sinks, s)
	}
	return f, nil
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Export(ctx context.Context, entries []models.VerdictEntry) {
	if len(entries) == 0 {
		return
	}

	for _, s := range f.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, exportTimeout)
		start := time.Now()
		err := s.Export(sinkCtx, entries)
		cancel()

		if err != nil {
			slog.Error("[Sinks] Export failed",
				slog.String("sink", s.Name()),
				slog.Int("entries", len(entries)),
				slog.String("error", err.Error()))
			continue
		}
		slog.Info("[Sinks] Exported batch",
			slog.String("sink", s.Name()),
			slog.Int("entries", len(entries)),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
