package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/ai/prompt"
)

const (
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
)

// Client calls an OpenAI-compatible chat completions endpoint with the
// rendered pages attached as image parts. The API key is read from Keys on
// every call so a credential change applies to the next analysis.
type Client struct {
	Keys    ai.KeySource
	BaseURL string
	Timeout time.Duration
}

func NewClient(keys ai.KeySource, baseURL string, timeout time.Duration) *Client {
	return &Client{Keys: keys, BaseURL: baseURL, Timeout: timeout}
}

func (c *Client) api() (*openai.Client, error) {
	key := ""
	if c.Keys != nil {
		key = strings.TrimSpace(c.Keys.APIKey())
	}
	if key == "" {
		return nil, &ai.RemoteServiceError{StatusCode: http.StatusUnauthorized, Message: "no API credential configured"}
	}
	cfg := openai.DefaultConfig(key)
	if c.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return openai.NewClientWithConfig(cfg), nil
}

func (c *Client) Analyze(ctx context.Context, pages []document.Page, mc ai.ModelConfig) (ai.Result, error) {
	cli, err := c.api()
	if err != nil {
		return ai.Result{}, err
	}

	model := mc.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	parts := make([]openai.ChatMessagePart, 0, len(pages)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt.GetUserPrompt(len(pages)),
	})
	for _, p := range pages {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(p),
				Detail: imageDetail(mc.Detail),
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = mc.Temperature
	}

	resp, err := cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return ai.Result{}, remoteError(err)
	}
	if len(resp.Choices) == 0 {
		return ai.Result{}, &ai.ParseError{Reason: "reply has no choices"}
	}

	res, err := prompt.ParseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return ai.Result{}, err
	}
	res.Model = resp.Model
	if res.Model == "" {
		res.Model = model
	}
	return res, nil
}

func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5")
}

func imageDetail(d string) openai.ImageURLDetail {
	switch strings.ToLower(d) {
	case "low":
		return openai.ImageURLDetailLow
	case "auto":
		return openai.ImageURLDetailAuto
	default:
		return openai.ImageURLDetailHigh
	}
}

func dataURL(p document.Page) string {
	mime := p.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// remoteError converts go-openai errors into *ai.RemoteServiceError.
func remoteError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ai.RemoteServiceError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ai.RemoteServiceError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &ai.RemoteServiceError{Message: err.Error(), Err: err}
}
