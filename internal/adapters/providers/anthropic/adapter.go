package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/classifier"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/httpclient"
	"github.com/omniquery/fanout-api/internal/registry"
)

const (
	hardMaxTokens  = 8192
	defaultVersion = "2023-06-01"
)

func init() {
	registry.Register("anthropic", NewAdapter)
}

type Adapter struct {
	config   providers.Config
	client   httpclient.HTTPClient
	classify *classifier.Classifier
}

func NewAdapter(config providers.Config) (providers.Adapter, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	return &Adapter{
		config: config,
		client: &http.Client{},
		// Anthropic signals overload with 529 rather than 503.
		classify: classifier.New(config.ID, map[int]classifier.Rule{
			529: {Kind: domain.KindServerError, Retryable: true},
		}),
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "anthropic" }

// --- Anthropic Internal Schemas ---

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type response struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Content    []content `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
}

func (a *Adapter) buildRequest(req *domain.CompletionRequest, stream bool) request {
	return request{
		Model: req.Model,
		Messages: []message{
			{Role: "user", Content: providers.PromptText(req)},
		},
		// max_tokens is mandatory here, so the clamp result is always sent.
		MaxTokens:   providers.ClampTokens(req.MaxTokens, req.ModelMaxTokens, hardMaxTokens),
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *Adapter) url() string {
	return fmt.Sprintf("%s/messages", strings.TrimRight(a.config.BaseURL, "/"))
}

func (a *Adapter) headers() map[string]string {
	version := defaultVersion
	if v, ok := a.config.Config["version"]; ok {
		version = v
	}
	return map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": version,
	}
}

func (a *Adapter) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	var out response
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(), a.headers(), a.buildRequest(req, false), &out); err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	fullText := ""
	for _, c := range out.Content {
		if c.Type == "text" {
			fullText += c.Text
		}
	}

	return &domain.Completion{
		Content:      fullText,
		Model:        out.Model,
		FinishReason: out.StopReason,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

func (a *Adapter) StreamComplete(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	resp, err := httpclient.OpenStream(ctx, a.client, "POST", a.url(), a.headers(), a.buildRequest(req, true))
	if err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		index := 0
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					select {
					case ch <- domain.ChunkEvent(event.Delta.Text, index):
						index++
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					select {
					case ch <- domain.FinishEvent(event.Delta.StopReason):
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- domain.ErrorEvent(a.classify.ClassifyTransport(err)):
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
