// Package signalctx turns SIGINT into context cancellation. It
// replaces internal/oninterrupt's process-wide callback registry with
// the context-based approach that package's own TODO pointed at:
// https://medium.com/@matryer/make-ctrl-c-cancel-the-context-context-bd006a8ad6ff
package signalctx

import (
	"context"
	"os"
	"os/signal"
)

// WithSignals returns a context that is cancelled the first time the
// process receives one of sigs (os.Interrupt if none given), plus a
// stop function that releases the underlying signal.Notify
// registration. Call stop once the context is no longer needed, even
// if it was never cancelled, to avoid leaking the signal channel.
func WithSignals(parent context.Context, sigs ...os.Signal) (context.Context, func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt}
	}
	ctx, cancel := context.WithCancel(parent)

	c := make(chan os.Signal, 1)
	signal.Notify(c, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case <-c:
			cancel()
		case <-done:
		}
	}()

	stop := func() {
		close(done)
		signal.Stop(c)
		cancel()
	}
	return ctx, stop
}
