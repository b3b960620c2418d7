package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/checkpoint"
	"github.com/spacesedan/sentibatch/internal/clients"
	"github.com/spacesedan/sentibatch/internal/headlines"
	"github.com/spacesedan/sentibatch/internal/models"
)

type fakeClassifier struct {
	calls []models.Headline
	// hook runs before the verdict is returned; call is 1-based
	hook func(call int, h models.Headline)
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(_ context.Context, h models.Headline) string {
	f.calls = append(f.calls, h)
	if f.hook != nil {
		f.hook(len(f.calls), h)
	}
	return "verdict for " + string(h)
}

type recordingExporter struct {
	batches [][]models.VerdictEntry
}

func (e *recordingExporter) Export(_ context.Context, entries []models.VerdictEntry) {
	e.batches = append(e.batches, entries)
}

func headlineAt(i int) models.Headline {
	return models.Headline(fmt.Sprintf("Headline %03d about markets", i))
}

// writeInput writes a CSV with n valid rows plus a few rows lacking a title.
func writeInput(t *testing.T, dir string, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("ID,TITLE,PUBLISHER\n")
	for i := 0; i < n; i++ {
		if i%7 == 3 {
			fmt.Fprintf(&sb, "x%d,,Nobody\n", i)
		}
		fmt.Fprintf(&sb, "%d,%s,Reuters\n", i, headlineAt(i))
	}
	path := filepath.Join(dir, "news.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func testOptions(dir, input string, strategy Strategy) Options {
	return Options{
		InputPath:       input,
		CheckpointPath:  filepath.Join(dir, "sentiments.json"),
		HeadlineColumn:  "TITLE",
		Fraction:        0.1,
		CheckpointEvery: 10,
		Strategy:        strategy,
	}
}

func readCheckpoint(t *testing.T, path string) *models.SentimentRecord {
	t.Helper()
	rec, found, err := checkpoint.NewStore(path).Load()
	require.NoError(t, err)
	require.True(t, found)
	return rec
}

func seedCheckpoint(t *testing.T, path string, hs ...models.Headline) {
	t.Helper()
	rec := models.NewSentimentRecord()
	for _, h := range hs {
		rec.Set(h, "verdict for "+string(h))
	}
	require.NoError(t, checkpoint.NewStore(path).Save(rec))
}

func TestRunFiftyRowsWritesCheckpointOnce(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 50), StrategyMembership)
	classifier := &fakeClassifier{}

	r := New(opts, classifier, nil)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 5, res.WorkingSetSize)
	require.Equal(t, 0, res.ResumeIndex)
	require.Equal(t, 5, res.Processed)
	require.Equal(t, 1, res.Saves)
	require.Equal(t, StateDone, r.State())
	require.Equal(t, []models.Headline{headlineAt(0), headlineAt(1), headlineAt(2), headlineAt(3), headlineAt(4)}, classifier.calls)

	onDisk := readCheckpoint(t, opts.CheckpointPath)
	require.Equal(t, res.Record.Headlines(), onDisk.Headlines())
	require.Equal(t, res.Record.Map(), onDisk.Map())
}

func TestRunResumesAfterPartialCheckpoint(t *testing.T) {
	for _, strategy := range []Strategy{StrategyMembership, StrategyCount} {
		t.Run(string(strategy), func(t *testing.T) {
			dir := t.TempDir()
			opts := testOptions(dir, writeInput(t, dir, 50), strategy)
			seedCheckpoint(t, opts.CheckpointPath, headlineAt(0), headlineAt(1), headlineAt(2))
			classifier := &fakeClassifier{}

			res, err := New(opts, classifier, nil).Run(context.Background())
			require.NoError(t, err)

			require.Equal(t, 3, res.ResumeIndex)
			require.Equal(t, []models.Headline{headlineAt(3), headlineAt(4)}, classifier.calls)
			require.Equal(t, 5, res.Record.Len())
			require.Equal(t, 1, res.Saves)
			require.Equal(t, 5, readCheckpoint(t, opts.CheckpointPath).Len())
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 120), StrategyMembership)

	first, err := New(opts, &fakeClassifier{}, nil).Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(opts.CheckpointPath)
	require.NoError(t, err)

	classifier := &fakeClassifier{}
	second, err := New(opts, classifier, nil).Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, classifier.calls)
	require.Equal(t, 0, second.Saves)
	require.Equal(t, 12, second.ResumeIndex)
	require.Equal(t, first.Record.Headlines(), second.Record.Headlines())
	require.Equal(t, first.Record.Map(), second.Record.Map())

	after, err := os.ReadFile(opts.CheckpointPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRunCheckpointsEveryTenthPosition(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 250), StrategyMembership)
	exporter := &recordingExporter{}

	classifier := &fakeClassifier{}
	classifier.hook = func(call int, _ models.Headline) {
		saved := ((call - 1) / 10) * 10
		if saved == 0 {
			_, err := os.Stat(opts.CheckpointPath)
			require.ErrorIs(t, err, os.ErrNotExist)
			return
		}
		require.Equal(t, saved, readCheckpoint(t, opts.CheckpointPath).Len())
	}

	res, err := New(opts, classifier, exporter).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 25, res.Processed)
	require.Equal(t, 3, res.Saves)

	require.Len(t, exporter.batches, 3)
	require.Len(t, exporter.batches[0], 10)
	require.Len(t, exporter.batches[1], 10)
	require.Len(t, exporter.batches[2], 5)

	last := exporter.batches[2][4]
	require.Equal(t, 25, last.Position)
	require.Equal(t, headlineAt(24), last.Headline)
	require.Equal(t, headlineAt(24).ID(), last.HeadlineID)
	require.Equal(t, res.RunID, last.RunID)
	require.Equal(t, "fake", last.Classifier)

	require.Equal(t, res.Record.Map(), readCheckpoint(t, opts.CheckpointPath).Map())
}

func TestRunInterruptedThenResumedMatchesUninterrupted(t *testing.T) {
	for _, strategy := range []Strategy{StrategyMembership, StrategyCount} {
		t.Run(string(strategy), func(t *testing.T) {
			refDir := t.TempDir()
			refOpts := testOptions(refDir, writeInput(t, refDir, 250), strategy)
			reference, err := New(refOpts, &fakeClassifier{}, nil).Run(context.Background())
			require.NoError(t, err)

			dir := t.TempDir()
			opts := testOptions(dir, writeInput(t, dir, 250), strategy)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			interrupted := &fakeClassifier{hook: func(call int, _ models.Headline) {
				if call == 13 {
					cancel()
				}
			}}

			partial, err := New(opts, interrupted, nil).Run(ctx)
			require.ErrorIs(t, err, context.Canceled)
			require.Equal(t, 12, partial.Processed)
			require.Equal(t, 12, readCheckpoint(t, opts.CheckpointPath).Len())

			resumed := &fakeClassifier{}
			res, err := New(opts, resumed, nil).Run(context.Background())
			require.NoError(t, err)

			require.Equal(t, 12, res.ResumeIndex)
			require.Len(t, resumed.calls, 13)
			require.Equal(t, headlineAt(12), resumed.calls[0])
			require.Equal(t, reference.Record.Headlines(), res.Record.Headlines())
			require.Equal(t, reference.Record.Map(), res.Record.Map())
		})
	}
}

func TestRunFailSoftWhenEndpointAlwaysFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	classifier := clients.NewCompletionsClient(config.Completions{
		BaseURL:     server.URL + "/v1/",
		Model:       "meta-llama/Llama-3.2-1B",
		MaxTokens:   50,
		Temperature: 0.7,
		Timeout:     time.Second,
	})

	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 60), StrategyMembership)

	r := New(opts, classifier, nil)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, r.State())
	require.Equal(t, 6, res.Record.Len())
	for _, v := range res.Record.Map() {
		require.Equal(t, models.VerdictUnknown, v)
	}

	raw, err := os.ReadFile(opts.CheckpointPath)
	require.NoError(t, err)
	var plain map[string]string
	require.NoError(t, json.Unmarshal(raw, &plain))
	require.Len(t, plain, 6)
}

func TestRunEmptyWorkingSet(t *testing.T) {
	t.Run("no checkpoint", func(t *testing.T) {
		dir := t.TempDir()
		opts := testOptions(dir, writeInput(t, dir, 9), StrategyMembership)
		classifier := &fakeClassifier{}

		res, err := New(opts, classifier, nil).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, res.WorkingSetSize)
		require.Equal(t, 0, res.Record.Len())
		require.Empty(t, classifier.calls)

		_, err = os.Stat(opts.CheckpointPath)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("existing checkpoint is returned unchanged", func(t *testing.T) {
		dir := t.TempDir()
		opts := testOptions(dir, writeInput(t, dir, 0), StrategyCount)
		seedCheckpoint(t, opts.CheckpointPath, "Older headline")

		res, err := New(opts, &fakeClassifier{}, nil).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, []models.Headline{"Older headline"}, res.Record.Headlines())
		require.Equal(t, 0, res.Saves)
	})
}

func TestRunCorruptCheckpointIsFatal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 50), StrategyMembership)
	require.NoError(t, os.WriteFile(opts.CheckpointPath, []byte(`{"Headline 000`), 0o644))
	classifier := &fakeClassifier{}

	_, err := New(opts, classifier, nil).Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)
	require.Empty(t, classifier.calls)

	raw, err := os.ReadFile(opts.CheckpointPath)
	require.NoError(t, err)
	require.Equal(t, `{"Headline 000`, string(raw))
}

func TestRunInputErrorsAreFatal(t *testing.T) {
	dir := t.TempDir()

	missing := testOptions(dir, filepath.Join(dir, "missing.csv"), StrategyMembership)
	_, err := New(missing, &fakeClassifier{}, nil).Run(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)

	noColumn := filepath.Join(dir, "nocol.csv")
	require.NoError(t, os.WriteFile(noColumn, []byte("ID,HEADLINE\n1,x\n"), 0o644))
	_, err = New(testOptions(dir, noColumn, StrategyMembership), &fakeClassifier{}, nil).Run(context.Background())
	require.ErrorIs(t, err, headlines.ErrMissingColumn)
}

func TestRunRepeatedHeadlines(t *testing.T) {
	// 100 rows -> working set of 10 with one headline appearing twice
	var sb strings.Builder
	sb.WriteString("TITLE\n")
	for i := 0; i < 100; i++ {
		h := headlineAt(i)
		if i == 5 {
			h = headlineAt(2)
		}
		fmt.Fprintf(&sb, "%s\n", h)
	}

	for _, tt := range []struct {
		strategy    Strategy
		secondCalls int
	}{
		{strategy: StrategyMembership, secondCalls: 0},
		{strategy: StrategyCount, secondCalls: 1},
	} {
		t.Run(string(tt.strategy), func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "news.csv")
			require.NoError(t, os.WriteFile(input, []byte(sb.String()), 0o644))
			opts := testOptions(dir, input, tt.strategy)

			first := &fakeClassifier{}
			res, err := New(opts, first, nil).Run(context.Background())
			require.NoError(t, err)
			require.Len(t, first.calls, 10)
			require.Equal(t, 9, res.Record.Len())

			second := &fakeClassifier{}
			_, err = New(opts, second, nil).Run(context.Background())
			require.NoError(t, err)
			require.Len(t, second.calls, tt.secondCalls)
		})
	}
}

func TestRunCheckpointWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 50), StrategyMembership)
	opts.CheckpointPath = filepath.Join(dir, "missing-dir", "sentiments.json")

	_, err := New(opts, &fakeClassifier{}, nil).Run(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestRunInterruptWithFailedSaveIsNotReportedAsCancellation(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeInput(t, dir, 50), StrategyMembership)
	opts.CheckpointPath = filepath.Join(dir, "missing-dir", "sentiments.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	classifier := &fakeClassifier{hook: func(call int, _ models.Headline) {
		if call == 3 {
			cancel()
		}
	}}

	res, err := New(opts, classifier, nil).Run(ctx)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
	require.Contains(t, err.Error(), "save checkpoint")
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 0, res.Saves)
}
