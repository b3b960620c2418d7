package sinks

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/clients"
	"github.com/spacesedan/sentibatch/internal/models"
)

// ValkeySink mirrors verdicts into one hash keyed by headline.
type ValkeySink struct {
	vc  *clients.ValkeyClient
	key string
	ttl time.Duration
}

func NewValkeySink(ctx context.Context, cfg config.Valkey) (*ValkeySink, error) {
	vc, err := clients.NewValkeyClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ValkeySink{vc: vc, key: cfg.ResultsKey, ttl: cfg.TTL}, nil
}

func (s *ValkeySink) Name() string {
	return config.SinkValkey
}

func (s *ValkeySink) Export(ctx context.Context, entries []models.VerdictEntry) error {
	if len(entries) == 0 {
		return nil
	}

	completed := s.commands(entries)
	for _, res := range s.vc.DoMultiWithRetry(ctx, completed, clients.MAX_RETRIES) {
		if err := res.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ValkeySink) commands(entries []models.VerdictEntry) []valkey.Completed {
	b := s.vc.Client.B()

	hset := b.Hset().Key(s.key).FieldValue()
	for _, e := range entries {
		hset = hset.FieldValue(string(e.Headline), e.Verdict)
	}

	// pinned so DoMultiWithRetry can send them again
	completed := []valkey.Completed{hset.Build().Pin()}
	if s.ttl > 0 {
		completed = append(completed, b.Expire().Key(s.key).Seconds(int64(s.ttl/time.Second)).Build().Pin())
	}
	return completed
}

func (s *ValkeySink) Close() error {
	s.vc.Close()
	return nil
}
