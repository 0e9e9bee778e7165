package openai

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

// The API rejects max_tokens values above what the model can emit, so we
// never send more than this regardless of what the store claims.
const hardMaxTokens = 16384

func init() {
	registry.Register("openai", NewAdapter)
}

type Adapter struct {
	config   providers.Config
	client   httpclient.HTTPClient
	classify *classifier.Classifier
}

func NewAdapter(config providers.Config) (providers.Adapter, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config:   config,
		client:   &http.Client{},
		classify: classifier.New(config.ID, nil),
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "openai" }

// --- OpenAI Internal Schemas ---

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type response struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *Adapter) buildRequest(req *domain.CompletionRequest, stream bool) request {
	return request{
		Model: req.Model,
		Messages: []message{
			{Role: "user", Content: providers.PromptText(req)},
		},
		MaxTokens:   providers.ClampTokens(req.MaxTokens, req.ModelMaxTokens, hardMaxTokens),
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *Adapter) url() string {
	return fmt.Sprintf("%s/chat/completions", strings.TrimRight(a.config.BaseURL, "/"))
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
}

func (a *Adapter) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	var out response
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(), a.headers(), a.buildRequest(req, false), &out); err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	if len(out.Choices) == 0 {
		return nil, a.classify.Classify(0, []byte("response contained no choices"))
	}

	return &domain.Completion{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
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
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case ch <- domain.ChunkEvent(text, index):
					index++
				case <-ctx.Done():
					return
				}
			}
			if reason := chunk.Choices[0].FinishReason; reason != "" {
				select {
				case ch <- domain.FinishEvent(reason):
				case <-ctx.Done():
				}
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
