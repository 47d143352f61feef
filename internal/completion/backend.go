package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var errEmptyChoices = errors.New("backend returned no choices")

// Backend performs one chat-completions call.
// This interface is implemented by OpenAIBackend.
type Backend interface {
	ChatCompletion(ctx context.Context, req Request) (Response, error)
}

// Ensure OpenAIBackend implements Backend.
var _ Backend = (*OpenAIBackend)(nil)

// OpenAIBackend talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIBackend creates a backend for baseURL (for example
// "https://api.openai.com/v1"). A nil httpClient uses http.DefaultClient.
func NewOpenAIBackend(baseURL string, httpClient *http.Client) *OpenAIBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ChatCompletion sends the request with the per-call API key.
func (b *OpenAIBackend) ChatCompletion(ctx context.Context, req Request) (Response, error) {
	cfg := openai.DefaultConfig(req.APIKey)
	cfg.BaseURL = b.baseURL
	cfg.HTTPClient = b.httpClient
	client := openai.NewClientWithConfig(cfg)

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errEmptyChoices
	}

	return Response{
		Content:     resp.Choices[0].Message.Content,
		TotalTokens: int64(resp.Usage.TotalTokens),
		Model:       resp.Model,
	}, nil
}

// describeError turns a backend failure into the message shown to the user.
func describeError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return "Error: invalid API key: " + apiErr.Message
		case http.StatusTooManyRequests:
			return "Error: rate limit reached: " + apiErr.Message
		}
		return "Error: " + apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("Error: backend returned status %d", reqErr.HTTPStatusCode)
	}
	if errors.Is(err, errEmptyChoices) {
		return "Error: the model returned an empty response"
	}
	if err != nil {
		return "Error: " + err.Error()
	}
	return "An error occurred while processing your request. Please check your API key and try again."
}
