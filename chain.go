package webshield

import (
	"net/http"
)

// Middleware is the contract every protection stage satisfies: wrap the next
// handler, and either call it or write a response and stop. The first stage
// that writes a response terminates the chain.
type Middleware = func(http.Handler) http.Handler

// Chain is an ordered, composable list of protection stages.
type Chain struct {
	stages []Middleware
}

// NewChain creates a chain from the given stages, outermost first.
func NewChain(stages ...Middleware) *Chain {
	return &Chain{stages: stages}
}

// Append adds stages to the end (innermost side) of the chain and returns
// the chain for composition.
func (c *Chain) Append(stages ...Middleware) *Chain {
	c.stages = append(c.stages, stages...)
	return c
}

// Then terminates the chain with the application handler and returns the
// composed handler. Stages run in the order they were added.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}
	for i := len(c.stages) - 1; i >= 0; i-- {
		h = c.stages[i](h)
	}
	return h
}

// statusRecorder captures the response status so stages can observe the
// outcome of the request they wrapped.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}
