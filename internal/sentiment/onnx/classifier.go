package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/models"
	"github.com/spacesedan/sentibatch/internal/sentiment"
)

// Classifier runs a local ONNX text-classification model.
type Classifier struct {
	model    string
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
}

// NewClassifier downloads the model on first use and starts a pure Go
// inference session. Close must be called to release it.
func NewClassifier(cfg config.ONNX) (*Classifier, error) {
	if err := os.MkdirAll(cfg.ModelDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}

	modelPath := filepath.Join(cfg.ModelDir, strings.ReplaceAll(cfg.Model, "/", "_"))
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		slog.Info("[ONNXClassifier] Model not found, downloading...", slog.String("model", cfg.Model))
		modelPath, err = hugot.DownloadModel(cfg.Model, cfg.ModelDir, hugot.NewDownloadOptions())
		if err != nil {
			return nil, fmt.Errorf("download model %s: %w", cfg.Model, err)
		}
		slog.Info("[ONNXClassifier] Model downloaded successfully", slog.String("path", modelPath))
	} else {
		slog.Info("[ONNXClassifier] Using existing model", slog.String("path", modelPath))
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("initialize hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "headlineSentimentPipeline",
	})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("initialize classification pipeline: %w", err)
	}

	return &Classifier{model: cfg.Model, session: session, pipeline: pipeline}, nil
}

func (m *Classifier) Name() string {
	return "onnx:" + m.model
}

func (m *Classifier) Classify(_ context.Context, headline models.Headline) string {
	text := sentiment.ConvertMarkdownToText(string(headline))
	out, err := m.pipeline.RunPipeline([]string{text})
	if err != nil {
		slog.Warn("[ONNXClassifier] Pipeline error for headline",
			slog.String("headline", string(headline)),
			slog.String("error", err.Error()))
		return models.VerdictUnknown
	}

	if len(out.ClassificationOutputs) == 0 {
		slog.Warn("[ONNXClassifier] No classification for headline",
			slog.String("headline", string(headline)))
		return models.VerdictUnknown
	}

	verdict, ok := verdictFromOutputs(out.ClassificationOutputs[0])
	if !ok {
		slog.Warn("[ONNXClassifier] No classification for headline",
			slog.String("headline", string(headline)))
		return models.VerdictUnknown
	}
	return verdict
}

func (m *Classifier) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}

// verdictFromOutputs picks the highest scoring label.
func verdictFromOutputs(outputs []pipelines.ClassificationOutput) (string, bool) {
	if len(outputs) == 0 {
		return "", false
	}

	best := outputs[0]
	for _, o := range outputs[1:] {
		if o.Score > best.Score {
			best = o
		}
	}

	label := strings.ToLower(best.Label)
	switch {
	case strings.HasPrefix(label, "pos"):
		label = "positive"
	case strings.HasPrefix(label, "neg"):
		label = "negative"
	default:
		label = "neutral"
	}
	return sentiment.FormatVerdict(label, float64(best.Score)), true
}
