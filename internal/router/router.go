// Package router classifies inbound frames by their kind discriminant and
// fans them out to subscribed handlers. Independent UI surfaces subscribe to
// the kinds they care about without owning the connection.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eigensight/pkg/frames"
)

// ErrMalformedFrame is returned when an inbound frame is not valid JSON or
// carries no kind field. The frame is dropped and subsequent frames are
// unaffected.
var ErrMalformedFrame = errors.New("malformed frame")

// Handler receives the raw bytes of every frame matching its subscription.
type Handler func(raw []byte)

// Router dispatches frames to subscribers. Since all frames traverse one
// physical channel and Dispatch runs on the receive goroutine, delivery
// order to every subscriber equals arrival order.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty router.
func New() *Router {
	return &Router{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a frame kind. Multiple handlers may
// subscribe to the same kind; each receives every matching frame exactly
// once, in registration order.
func (r *Router) Subscribe(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

// Dispatch classifies one inbound frame and invokes every subscriber for its
// kind. Malformed frames are dropped and logged; unknown kinds are ignored
// silently. Either way the router keeps processing subsequent frames.
func (r *Router) Dispatch(raw []byte) error {
	kind, err := frames.PeekKind(raw)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	r.mu.RLock()
	subscribers := r.handlers[kind]
	r.mu.RUnlock()

	for _, h := range subscribers {
		h(raw)
	}
	return nil
}
