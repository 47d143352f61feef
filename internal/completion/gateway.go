package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// GatewayConfig holds gateway defaults.
type GatewayConfig struct {
	DefaultCredential string
	DefaultModel      string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
}

// DefaultGatewayConfig returns the stock generation parameters.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		DefaultModel: "gpt-3.5-turbo",
		Temperature:  0.7,
		MaxTokens:    1000,
		Timeout:      60 * time.Second,
	}
}

// Gateway normalizes backend calls into Results.
type Gateway struct {
	backend Backend
	counter TokenCounter
	cfg     GatewayConfig
	logger  *slog.Logger
}

// NewGateway creates a gateway. A nil counter uses the tiktoken counter.
func NewGateway(backend Backend, counter TokenCounter, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = NewTiktokenCounter()
	}
	def := DefaultGatewayConfig()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Gateway{backend: backend, counter: counter, cfg: cfg, logger: logger}
}

// DefaultModel returns the model used when a thread has none.
func (g *Gateway) DefaultModel() string {
	return g.cfg.DefaultModel
}

func (g *Gateway) resolveCredential(explicit *string) (string, bool) {
	if explicit != nil && strings.TrimSpace(*explicit) != "" {
		return strings.TrimSpace(*explicit), true
	}
	if g.cfg.DefaultCredential != "" {
		return g.cfg.DefaultCredential, true
	}
	return "", false
}

// Complete sends msgs to the backend.
//
// A missing credential, an exceeded timeout, or a cancelled ctx is returned
// as an error. Every other backend failure is folded into a Result with
// Status error and zero tokens.
func (g *Gateway) Complete(ctx context.Context, msgs []Message, opts Options) (Result, error) {
	model := opts.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}

	apiKey, ok := g.resolveCredential(opts.Credential)
	if !ok {
		return Result{}, ErrCredentialMissing
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.backend.ChatCompletion(callCtx, Request{
		APIKey:      apiKey,
		Model:       model,
		Messages:    msgs,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
				return Result{}, fmt.Errorf("completion timed out after %s: %w", g.cfg.Timeout, ctxErr)
			}
			return Result{}, fmt.Errorf("completion aborted: %w", ctxErr)
		}
		g.logger.Warn("Completion backend error", "model", model, "error", err)
		return Result{
			Content:      describeError(err),
			TokensUsed:   0,
			ResponseTime: 0,
			Model:        model,
			Status:       domain.StatusError,
		}, nil
	}

	tokens := resp.TotalTokens
	if tokens <= 0 && resp.Content != "" {
		tokens = estimateUsage(g.counter, msgs, resp.Content)
		g.logger.Debug("Backend omitted usage, estimated tokens", "model", model, "tokens", tokens)
	}

	echo := resp.Model
	if echo == "" {
		echo = model
	}

	return Result{
		Content:      resp.Content,
		TokensUsed:   tokens,
		ResponseTime: elapsed,
		Model:        echo,
		Status:       domain.StatusSuccess,
	}, nil
}
