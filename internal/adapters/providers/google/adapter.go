package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/classifier"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/httpclient"
	"github.com/omniquery/fanout-api/internal/registry"
)

const hardMaxTokens = 8192

func init() {
	registry.Register("google", NewAdapter)
}

type Adapter struct {
	config   providers.Config
	client   httpclient.HTTPClient
	classify *classifier.Classifier
}

func NewAdapter(config providers.Config) (providers.Adapter, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Adapter{
		config:   config,
		client:   &http.Client{},
		classify: classifier.New(config.ID, nil),
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "google" }

// --- Gemini Internal Schemas ---

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type request struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (a *Adapter) buildRequest(req *domain.CompletionRequest) request {
	var body request
	body.Contents = append(body.Contents, struct {
		Parts []part `json:"parts"`
	}{Parts: []part{{Text: providers.PromptText(req)}}})
	body.GenerationConfig = generationConfig{
		MaxOutputTokens: providers.ClampTokens(req.MaxTokens, req.ModelMaxTokens, hardMaxTokens),
		Temperature:     req.Temperature,
	}
	return body
}

func (a *Adapter) url(model, verb string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s",
		strings.TrimRight(a.config.BaseURL, "/"), model, verb, a.config.APIKey)
}

func (a *Adapter) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	var out response
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url(req.Model, "generateContent"), nil, a.buildRequest(req), &out); err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	if len(out.Candidates) == 0 {
		return nil, a.classify.Classify(0, []byte("response contained no candidates"))
	}

	fullText := ""
	for _, p := range out.Candidates[0].Content.Parts {
		fullText += p.Text
	}

	return &domain.Completion{
		Content:      fullText,
		Model:        req.Model,
		FinishReason: strings.ToLower(out.Candidates[0].FinishReason),
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// StreamComplete calls streamGenerateContent, which does not emit SSE: the
// whole payload arrives as one JSON array that is only parseable once the
// connection closes. The array is decoded on close and its chunks emitted
// back-to-back so callers see the same event stream as a true incremental
// upstream, just with a slower first byte.
func (a *Adapter) StreamComplete(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	resp, err := httpclient.OpenStream(ctx, a.client, "POST", a.url(req.Model, "streamGenerateContent"), nil, a.buildRequest(req))
	if err != nil {
		return nil, providers.ToErrorRecord(a.classify, err)
	}

	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			select {
			case ch <- domain.ErrorEvent(a.classify.ClassifyTransport(err)):
			case <-ctx.Done():
			}
			return
		}

		var pieces []response
		if err := json.Unmarshal(body, &pieces); err != nil {
			select {
			case ch <- domain.ErrorEvent(a.classify.Classify(0, body)):
			case <-ctx.Done():
			}
			return
		}

		index := 0
		finish := ""
		for _, piece := range pieces {
			if len(piece.Candidates) == 0 {
				continue
			}
			if r := piece.Candidates[0].FinishReason; r != "" {
				finish = strings.ToLower(r)
			}
			for _, p := range piece.Candidates[0].Content.Parts {
				if p.Text == "" {
					continue
				}
				select {
				case ch <- domain.ChunkEvent(p.Text, index):
					index++
				case <-ctx.Done():
					return
				}
			}
		}

		if finish != "" {
			select {
			case ch <- domain.FinishEvent(finish):
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
