package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"wbgate-go/internal/apierr"
	"wbgate-go/internal/config"
	"wbgate-go/internal/events"
	"wbgate-go/internal/executor"
	"wbgate-go/internal/fallback"
)

// Requester is the slice of the request client the generation layer needs.
type Requester interface {
	Do(ctx context.Context, req executor.Request) (*executor.Response, error)
}

// Result is one completed generation.
type Result struct {
	// Model that actually produced the text; may differ from the preferred
	// model when the chain fell back.
	Model string `json:"model"`
	Text  string `json:"text"`
	// FellBack is true when a non-primary model answered.
	FellBack bool `json:"fell_back"`
}

// Client runs text generation against the backend with model-level fallback.
// The configured model chain is tried in priority order; per-model overrides
// (timeout, temperature, token cap) apply to their own attempt only.
type Client struct {
	requester Requester
	bus       events.Publisher

	mu   sync.RWMutex
	gen  config.GenConfig
	av   map[string]struct{}
	avAt time.Time
}

// New builds a generation client. bus may be nil.
func New(requester Requester, gen config.GenConfig, bus events.Publisher) *Client {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Client{requester: requester, gen: gen, bus: bus}
}

// UpdateConfig swaps the model chain and options, e.g. after a config reload.
// The availability cache is invalidated so the new chain is re-verified.
func (c *Client) UpdateConfig(gen config.GenConfig) {
	c.mu.Lock()
	c.gen = gen
	c.av = nil
	c.avAt = time.Time{}
	c.mu.Unlock()
}

// Generate runs the prompt through the model fallback chain and returns the
// first model's answer. Later models are only consulted when an earlier one
// is unavailable, overloaded or times out.
func (c *Client) Generate(ctx context.Context, prompt string) (*Result, error) {
	candidates, opts := c.chain(ctx)
	if len(candidates) == 0 {
		return nil, apierr.New(apierr.KindCandidatesExhausted, "no generation models configured")
	}

	outcome, err := fallback.Invoke(ctx, candidates,
		func(ctx context.Context, cand fallback.Candidate[config.ModelOverride]) (string, error) {
			return c.generateWith(ctx, cand.ID, prompt, cand.Options)
		}, opts)
	if err != nil {
		return nil, c.friendly(err)
	}

	fellBack := outcome.Candidate != candidates[0].ID
	if fellBack {
		log.Warnf("generation fell back from %s to %s", candidates[0].ID, outcome.Candidate)
		c.bus.Publish(ctx, events.TopicModelFallback, events.Failover{
			From:   candidates[0].ID,
			To:     outcome.Candidate,
			Reason: "preferred model unavailable",
		})
	}

	return &Result{Model: outcome.Candidate, Text: outcome.Value, FellBack: fellBack}, nil
}

// generateWith performs one non-streaming generation attempt.
func (c *Client) generateWith(ctx context.Context, model, prompt string, opt config.ModelOverride) (string, error) {
	payload, _ := sjson.Set("", "model", model)
	payload, _ = sjson.Set(payload, "prompt", prompt)
	payload, _ = sjson.Set(payload, "stream", false)
	if opt.Temperature > 0 {
		payload, _ = sjson.Set(payload, "options.temperature", opt.Temperature)
	}
	if opt.MaxTokens > 0 {
		payload, _ = sjson.Set(payload, "options.num_predict", opt.MaxTokens)
	}

	req := executor.Request{
		Method: http.MethodPost,
		Path:   "/api/generate",
		Body:   []byte(payload),
	}
	if opt.TimeoutSec > 0 {
		req.Timeout = time.Duration(opt.TimeoutSec) * time.Second
	}

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return "", err
	}

	text := gjson.GetBytes(resp.Body, "response")
	if !text.Exists() {
		return "", fmt.Errorf("model %s returned no response field", model)
	}
	return text.String(), nil
}

// chain builds the candidate list from the configured models, filtered through
// the availability cache when one is fresh. An unknown availability state never
// blocks generation; the chain itself sorts out dead models.
func (c *Client) chain(ctx context.Context) ([]fallback.Candidate[config.ModelOverride], fallback.Options) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	available := c.availability(ctx, gen.CheckInterval())

	candidates := make([]fallback.Candidate[config.ModelOverride], 0, len(gen.Models))
	for _, m := range gen.Models {
		if available != nil {
			if _, ok := available[m]; !ok {
				log.Debugf("skipping model %s: not installed on backend", m)
				continue
			}
		}
		candidates = append(candidates, fallback.Candidate[config.ModelOverride]{
			ID:      m,
			Options: gen.ModelOptions[m],
		})
	}
	// Filtering everything out means the cache disagrees with the config;
	// trust the config and let the attempts fail with real errors.
	if len(candidates) == 0 {
		for _, m := range gen.Models {
			candidates = append(candidates, fallback.Candidate[config.ModelOverride]{
				ID:      m,
				Options: gen.ModelOptions[m],
			})
		}
	}

	opts := fallback.Options{PerAttemptTimeout: gen.AttemptTimeout()}
	if gen.AdvanceOnClientError {
		opts.AdvanceOn = fallback.AdvanceAlways
	}
	return candidates, opts
}

// availability returns the cached set of installed models, refreshing it when
// older than ttl. Returns nil when the backend cannot be asked.
func (c *Client) availability(ctx context.Context, ttl time.Duration) map[string]struct{} {
	c.mu.RLock()
	av, at := c.av, c.avAt
	c.mu.RUnlock()
	if av != nil && time.Since(at) < ttl {
		return av
	}

	models, err := c.listModels(ctx)
	if err != nil {
		log.Debugf("model availability check failed: %v", err)
		return av
	}

	fresh := make(map[string]struct{}, len(models))
	for _, m := range models {
		fresh[m] = struct{}{}
	}
	c.mu.Lock()
	c.av, c.avAt = fresh, time.Now()
	c.mu.Unlock()
	return fresh
}

// Models lists the models installed on the backend.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	return c.listModels(ctx)
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	resp, err := c.requester.Do(ctx, executor.Request{Method: http.MethodGet, Path: "/api/tags"})
	if err != nil {
		return nil, err
	}

	var models []string
	gjson.GetBytes(resp.Body, "models.#.name").ForEach(func(_, v gjson.Result) bool {
		models = append(models, v.String())
		return true
	})
	return models, nil
}

// Healthy reports whether the generation backend answers its model listing.
func (c *Client) Healthy(ctx context.Context) bool {
	return fallback.HealthCheck(ctx, "genai", func(ctx context.Context) error {
		_, err := c.listModels(ctx)
		return err
	}, 5*time.Second)
}

// friendly rewrites infrastructure failures into messages a user can act on,
// keeping the original error in the chain for logs.
func (c *Client) friendly(err error) error {
	var chainErr *fallback.ChainError
	if errors.As(err, &chainErr) {
		if onlyConnectivity(chainErr) {
			return apierr.Wrap(apierr.KindConnection,
				"generation backend is unreachable; check that the model server is running", err)
		}
		return apierr.Wrap(apierr.KindCandidatesExhausted,
			fmt.Sprintf("all %d configured models failed", len(chainErr.Failures)), err)
	}
	switch apierr.KindOf(err) {
	case apierr.KindConnection, apierr.KindEndpointsExhausted:
		return apierr.Wrap(apierr.KindConnection,
			"generation backend is unreachable; check that the model server is running", err)
	case apierr.KindTimeout:
		return apierr.Wrap(apierr.KindTimeout,
			"generation timed out; the model may be loading or the prompt too large", err)
	}
	return err
}

// onlyConnectivity reports whether every chain failure was the backend being
// unreachable, as opposed to models rejecting the request.
func onlyConnectivity(chainErr *fallback.ChainError) bool {
	for _, f := range chainErr.Failures {
		switch apierr.KindOf(f.Reason) {
		case apierr.KindConnection, apierr.KindEndpointsExhausted:
		default:
			return false
		}
	}
	return true
}
