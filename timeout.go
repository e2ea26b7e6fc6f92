package webshield

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// timeoutStage races the handler against a deadline. The response is
// buffered: if the handler finishes first the buffer is flushed to the real
// writer, if the deadline fires first a 408 is written instead and whatever
// the handler produces afterwards is discarded. Exactly one of the two
// outcomes reaches the client.
func (s *Shield) timeoutStage(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := newTimeoutWriter(w)
			done := make(chan struct{})
			panicChan := make(chan any, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- p
					}
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicChan:
				panic(p)
			case <-done:
				tw.flush()
			case <-ctx.Done():
				if !tw.timeout() {
					// Handler won the race on the writer; nothing to do.
					return
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					serr := ErrInternal(context.DeadlineExceeded).WithStatus(http.StatusRequestTimeout)
					s.reject(w, r, "timeout", serr)
				}
				// Client disconnects land here too; no one is listening,
				// so nothing is written.
			}
		})
	}
}

// timeoutWriter buffers the handler's response so nothing reaches the wire
// until the race against the deadline is decided.
type timeoutWriter struct {
	mu       sync.Mutex
	dst      http.ResponseWriter
	header   http.Header
	buf      bytes.Buffer
	code     int
	timedOut bool
	flushed  bool
}

func newTimeoutWriter(dst http.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{
		dst:    dst,
		header: make(http.Header),
		code:   http.StatusOK,
	}
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.flushed {
		return
	}
	tw.code = code
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	return tw.buf.Write(b)
}

// flush copies the buffered response to the real writer. No-op after a
// timeout has been declared.
func (tw *timeoutWriter) flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.flushed {
		return
	}
	tw.flushed = true

	dh := tw.dst.Header()
	for k, vv := range tw.header {
		dh[k] = vv
	}
	tw.dst.WriteHeader(tw.code)
	tw.dst.Write(tw.buf.Bytes()) //nolint:errcheck // nothing useful to do on a failed tail write
}

// timeout marks the writer as timed out. It returns false when the handler
// already flushed, in which case the timeout must be a no-op.
func (tw *timeoutWriter) timeout() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.flushed {
		return false
	}
	tw.timedOut = true
	return true
}
