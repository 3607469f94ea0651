package executor

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"wbgate-go/internal/apierr"
	"wbgate-go/internal/authtoken"
	"wbgate-go/internal/endpoint"
	"wbgate-go/internal/events"
	"wbgate-go/internal/logging"
	"wbgate-go/internal/monitoring/tracing"
	"wbgate-go/internal/transport"
)

// Config tunes executor behavior.
type Config struct {
	// RequestTimeout bounds each transport attempt. 0 disables the bound.
	RequestTimeout time.Duration
	// MaxAttempts caps how many candidate endpoints one logical request may
	// try. The auth retry replays an endpoint and does not count. 0 means
	// every candidate.
	MaxAttempts int
	// RateLimit throttles outgoing attempts when non-nil.
	RateLimit *rate.Limiter
}

// Executor is the failover-aware, credential-aware request runner. Per
// logical request it performs at most one token refresh and at most one
// attempt per candidate endpoint, strictly sequentially.
type Executor struct {
	transport transport.Transport
	tokens    *authtoken.Store
	refresher *authtoken.Coordinator
	endpoints *endpoint.Resolver
	bus       events.Publisher
	pipeline  Pipeline
	cfg       Config
}

// New wires the executor. bus may be nil.
func New(tr transport.Transport, tokens *authtoken.Store, refresher *authtoken.Coordinator, endpoints *endpoint.Resolver, bus events.Publisher, pipeline Pipeline, cfg Config) *Executor {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Executor{
		transport: tr,
		tokens:    tokens,
		refresher: refresher,
		endpoints: endpoints,
		bus:       bus,
		pipeline:  pipeline,
		cfg:       cfg,
	}
}

// Endpoints exposes the resolver for health checks and hot-reload.
func (e *Executor) Endpoints() *endpoint.Resolver { return e.endpoints }

// Do runs one logical request through the retry state machine.
//
// Flow per attempt: attach credentials, send, then interpret. A 401 engages
// the refresh coordinator once; a connection-level failure advances the
// endpoint cursor. Timeouts and cancellations terminate immediately: failover
// is reserved for unreachable endpoints, not slow ones.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "executor", "request",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.Path),
		))
	defer span.End()

	// Fresh cursor per logical request: failover never sticks across
	// independent requests, so a recovered primary gets traffic back.
	cursor := e.endpoints.Cursor()

	token := ""
	if !req.NoAuth {
		token, _ = e.tokens.Get(ctx)
	}

	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > cursor.Size() {
		maxAttempts = cursor.Size()
	}

	// The ledger: one refresh flag plus the endpoints actually sent to. The
	// auth retry replays the same endpoint and never consumes failover budget.
	refreshed := false
	attempted := make([]string, 0, cursor.Size())
	attempt := 0
	for {
		attempt++
		if e.cfg.RateLimit != nil {
			if err := e.cfg.RateLimit.Wait(ctx); err != nil {
				return nil, apierr.MapNetworkError(err)
			}
		}

		base := cursor.Current()
		if len(attempted) == 0 || attempted[len(attempted)-1] != base {
			attempted = append(attempted, base)
		}
		treq := e.buildAttempt(&req, base, token)

		start := time.Now()
		resp, err := e.transport.RoundTrip(ctx, treq)
		dur := time.Since(start)

		entry := logging.WithAttempt(requestID, base, attempt, log.Fields{
			"method":      req.Method,
			"path":        req.Path,
			"duration_ms": logging.DurationMS(dur),
		})

		if err != nil {
			switch apierr.KindOf(err) {
			case apierr.KindTimeout, apierr.KindCancelled:
				entry.Warnf("request aborted: %v", err)
				return nil, err
			case apierr.KindConnection:
				entry.Warnf("endpoint unreachable: %v", err)
				// Bound check precedes Advance so the error reports only
				// endpoints that were actually sent to.
				var next string
				advErr := endpoint.ErrExhausted
				if len(attempted) < maxAttempts {
					next, advErr = cursor.Advance()
				}
				if advErr != nil {
					e.bus.Publish(ctx, events.TopicEndpointFailover, events.Failover{
						From: base, Reason: "all candidates exhausted",
					})
					return nil, &apierr.Error{
						Kind:      apierr.KindEndpointsExhausted,
						Message:   "no endpoint reachable",
						Endpoints: attempted,
						Err:       err,
					}
				}
				e.bus.Publish(ctx, events.TopicEndpointFailover, events.Failover{
					From: base, To: next, Reason: "connection failure",
				})
				continue
			default:
				entry.Errorf("transport failure: %v", err)
				return nil, err
			}
		}

		if resp.Status == http.StatusUnauthorized && !req.NoAuth && token != "" {
			if refreshed {
				// One refresh per logical request; a second 401 is terminal
				// and destroys the credential.
				entry.Warn("401 after refresh, clearing credentials")
				e.tokens.Clear(ctx)
				return e.normalize(resp), apierr.MapHTTPError(resp.Status, resp.Body)
			}
			refreshed = true
			entry.Debug("401 received, refreshing token")
			fresh, rerr := e.refresher.Refresh(ctx)
			if rerr != nil {
				return nil, rerr
			}
			token = fresh
			// Retry against the same endpoint; refresh is not a failover.
			continue
		}

		if resp.Status >= 400 {
			entry.Debugf("upstream error status %d", resp.Status)
			return e.normalize(resp), apierr.MapHTTPError(resp.Status, resp.Body)
		}

		entry.Debugf("request succeeded with status %d", resp.Status)
		out := e.normalize(resp)
		e.pipeline.applyResponse(out)
		return out, nil
	}
}

func (e *Executor) buildAttempt(req *Request, base, token string) *transport.Request {
	header := make(http.Header, len(req.Header)+2)
	for k, vs := range req.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if token != "" && !req.NoAuth {
		header.Set("Authorization", "Bearer "+token)
	}
	if len(req.Body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.RequestTimeout
	}

	treq := &transport.Request{
		Method:  req.Method,
		URL:     base + req.Path,
		Header:  header,
		Body:    req.Body,
		Timeout: timeout,
	}
	e.pipeline.applyRequest(treq)
	return treq
}

func (e *Executor) normalize(resp *transport.Response) *Response {
	return &Response{Status: resp.Status, Header: resp.Header, Body: resp.Body}
}
