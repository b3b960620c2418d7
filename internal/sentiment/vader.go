package sentiment

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"

	"github.com/spacesedan/sentibatch/internal/models"
)

var (
	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?:\/\/[^\s\)]+)\)`)
	urlPattern  = regexp.MustCompile(`https?://\S+|www\.\S+`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
)

func RemoveLinks(input string) string {
	input = linkPattern.ReplaceAllString(input, "$1") // Keep only the text
	return urlPattern.ReplaceAllString(input, "")
}

// ConvertMarkdownToText renders markdown and strips the resulting markup,
// leaving single-spaced plain text.
func ConvertMarkdownToText(input string) string {
	input = RemoveLinks(input)
	output := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())
	plain := html.UnescapeString(tagPattern.ReplaceAllString(string(output), " "))
	return strings.Join(strings.Fields(plain), " ")
}

// LexiconClassifier scores headlines offline with VADER.
type LexiconClassifier struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (l *LexiconClassifier) Name() string {
	return "vader"
}

func (l *LexiconClassifier) Classify(_ context.Context, headline models.Headline) string {
	plain := ConvertMarkdownToText(string(headline))
	if plain == "" {
		slog.Warn("[LexiconClassifier] Headline has no text after normalization",
			slog.String("headline", string(headline)))
		return models.VerdictUnknown
	}

	score, label := l.Analyze(plain)
	return FormatVerdict(label, score)
}

func (l *LexiconClassifier) Analyze(text string) (float64, string) {
	score := l.analyzer.PolarityScores(text).Compound

	var label string
	if score >= 0.20 {
		label = "positive"
	} else if score <= -0.20 {
		label = "negative"
	} else {
		label = "neutral"
	}

	return score, label
}

// ActionForLabel maps a sentiment label to Buy, Hold, or Sell.
func ActionForLabel(label string) string {
	switch strings.ToLower(label) {
	case "positive":
		return "Buy"
	case "negative":
		return "Sell"
	default:
		return "Hold"
	}
}

func FormatVerdict(label string, score float64) string {
	return fmt.Sprintf("Sentiment: %s (%.2f). Suggested action: %s", strings.ToLower(label), score, ActionForLabel(label))
}
