package executor

import "wbgate-go/internal/transport"

// RequestHook transforms an outgoing transport request. Hooks run in
// registration order on every attempt, after auth attachment.
type RequestHook func(*transport.Request)

// ResponseHook transforms a successful response before it reaches the caller.
type ResponseHook func(*Response)

// Pipeline is an ordered set of pure transform steps composed at construction
// time. There is no mutable registration after the executor is built.
type Pipeline struct {
	request  []RequestHook
	response []ResponseHook
}

// NewPipeline composes the given hooks.
func NewPipeline(reqHooks []RequestHook, respHooks []ResponseHook) Pipeline {
	return Pipeline{request: reqHooks, response: respHooks}
}

func (p Pipeline) applyRequest(req *transport.Request) {
	for _, hook := range p.request {
		hook(req)
	}
}

func (p Pipeline) applyResponse(resp *Response) {
	for _, hook := range p.response {
		hook(resp)
	}
}

// WithHeader returns a hook that sets a static header on every request.
func WithHeader(key, value string) RequestHook {
	return func(req *transport.Request) {
		req.Header.Set(key, value)
	}
}
