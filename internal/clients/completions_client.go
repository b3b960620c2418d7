package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/models"
)

const promptTemplate = "Analyze the sentiment of this financial news headline and suggest actions (Buy, Hold, Sell): '%s'"

// CompletionsClient asks an OpenAI-compatible /completions endpoint for a
// sentiment verdict on one headline at a time.
type CompletionsClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewCompletionsClient(cfg config.Completions) *CompletionsClient {
	opts := []option.RequestOption{
		option.WithBaseURL(withTrailingSlash(cfg.BaseURL)),
		option.WithHTTPClient(completionsHTTPClient(cfg)),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", USER_AGENT),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// the SDK defaults pick up OPENAI_* from the environment; none of it is meant for this endpoint
		opts = append(opts,
			option.WithHeaderDel("Authorization"),
			option.WithHeaderDel("OpenAI-Organization"),
			option.WithHeaderDel("OpenAI-Project"),
		)
	}

	slog.Info("[CompletionsClient] Client initialized",
		slog.String("base_url", cfg.BaseURL),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Bool("oauth", cfg.OAuthTokenURL != ""))

	return &CompletionsClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *CompletionsClient) Name() string {
	return "completions:" + c.model
}

// Classify returns the trimmed text of the first completion choice. Any
// failure is logged and reported as models.VerdictUnknown; it never aborts
// the caller.
func (c *CompletionsClient) Classify(ctx context.Context, headline models.Headline) string {
	start := time.Now()

	resp, err := c.client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.F(openai.CompletionNewParamsModel(c.model)),
		Prompt:      openai.F[openai.CompletionNewParamsPromptUnion](shared.UnionString(BuildPrompt(headline))),
		MaxTokens:   openai.F(int64(c.maxTokens)),
		Temperature: openai.F(c.temperature),
	})
	if err != nil {
		slog.Warn("[CompletionsClient] API error for headline",
			slog.String("headline", string(headline)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return models.VerdictUnknown
	}

	if resp == nil || len(resp.Choices) == 0 {
		slog.Warn("[CompletionsClient] No choices in response for headline",
			slog.String("headline", string(headline)))
		return models.VerdictUnknown
	}

	slog.Debug("[CompletionsClient] Completion received",
		slog.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(resp.Choices[0].Text)
}

// HealthCheck reports whether the endpoint answers a model listing.
func (c *CompletionsClient) HealthCheck(ctx context.Context) bool {
	if _, err := c.client.Models.List(ctx); err != nil {
		slog.Debug("[CompletionsClient] Health check failed",
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func BuildPrompt(headline models.Headline) string {
	return fmt.Sprintf(promptTemplate, headline)
}

func completionsHTTPClient(cfg config.Completions) *http.Client {
	if cfg.OAuthTokenURL == "" {
		return &http.Client{Timeout: cfg.Timeout}
	}

	oauthConf := &clientcredentials.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		TokenURL:     cfg.OAuthTokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// token requests use their own client so they are bounded too
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	client := oauthConf.Client(tokenCtx)
	client.Timeout = cfg.Timeout
	return client
}

func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
