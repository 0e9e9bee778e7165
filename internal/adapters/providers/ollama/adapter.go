package ollama

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

const hardMaxTokens = 4096

func init() {
	registry.Register("ollama", NewAdapter)
}

type Adapter struct {
	config   providers.Config
	client   httpclient.HTTPClient
	classify *classifier.Classifier
}

func NewAdapter(config providers.Config) (providers.Adapter, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	return &Adapter{
		config:   config,
		client:   &http.Client{},
		classify: classifier.New(config.ID, nil),
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "ollama" }

// --- Ollama Internal Schemas ---

type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type request struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type response struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	PromptEval int    `json:"prompt_eval_count"`
	EvalCount  int    `json:"eval_count"`
}

func (a *Adapter) buildRequest(req *domain.CompletionRequest, stream bool) request {
	return request{
		Model:  req.Model,
		Prompt: providers.PromptText(req),
		Stream: stream,
		Options: options{
			// Ollama names the output cap num_predict.
			NumPredict:  providers.ClampTokens(req.MaxTokens, req.ModelMaxTokens, hardMaxTokens),
			Temperature: req.Temperature,
		},
	}
}

func (a *Adapter) url() string {
	return fmt.Sprintf("%s/api/generate", strings.TrimRight(a.config.BaseURL, "/"))
}

func (a *Adapter) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	var out response
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(), nil, a.buildRequest(req, false), &out); err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	finish := out.DoneReason
	if finish == "" && out.Done {
		finish = "stop"
	}

	return &domain.Completion{
		Content:      out.Response,
		Model:        out.Model,
		FinishReason: finish,
		InputTokens:  out.PromptEval,
		OutputTokens: out.EvalCount,
	}, nil
}

// StreamComplete reads Ollama's newline-delimited JSON chunks.
func (a *Adapter) StreamComplete(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	resp, err := httpclient.OpenStream(ctx, a.client, "POST", a.url(), nil, a.buildRequest(req, true))
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
			if line == "" {
				continue
			}

			var chunk response
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}

			if chunk.Response != "" {
				select {
				case ch <- domain.ChunkEvent(chunk.Response, index):
					index++
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				finish := chunk.DoneReason
				if finish == "" {
					finish = "stop"
				}
				select {
				case ch <- domain.FinishEvent(finish):
				case <-ctx.Done():
				}
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
