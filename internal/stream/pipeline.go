// Package stream runs the live WebSocket frame loop: one lightweight task
// per connection, each with its own tracking cache.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/pipeline"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/tracking"
)

// DefaultDrainWait is how long the backlog drain waits for an already
// buffered frame before deciding the newest one has been seen. It detects
// "no more buffered frames right now", it does not bound frame latency.
const DefaultDrainWait = time.Millisecond

// Handler serves live connections. Each connection gets a fresh tracking
// cache; the reference store and swap engine are shared.
type Handler struct {
	refs      *reference.Store
	locator   tracking.Locator
	swapper   pipeline.Swapper
	cadence   int
	drainWait time.Duration
	log       zerolog.Logger
}

// NewHandler creates a live-stream handler
func NewHandler(log zerolog.Logger, refs *reference.Store, locator tracking.Locator, swapper pipeline.Swapper, cadence int, drainWait time.Duration) *Handler {
	if drainWait <= 0 {
		drainWait = DefaultDrainWait
	}
	return &Handler{
		refs:      refs,
		locator:   locator,
		swapper:   swapper,
		cadence:   cadence,
		drainWait: drainWait,
		log:       log,
	}
}

// Serve runs the frame loop for one connection until the client disconnects
// or ctx is canceled. Disconnection is a normal termination and returns nil.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) error {
	proc := pipeline.NewProcessor(h.log, h.refs, tracking.NewCache(h.locator, h.cadence), h.swapper)

	// Reader pump: frames arrive on a channel so the backlog drain can use
	// a short timed select without tearing down the connection read.
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var data []byte
		select {
		case data = <-frames:
		case err := <-readErr:
			return normalizeClose(err)
		case <-ctx.Done():
			return ctx.Err()
		}

		// Drain any backlog the producer built up while we were busy,
		// keeping only the most recent frame. Skipped frames get no reply.
		data = h.drain(data, frames)

		if err := h.processFrame(ctx, conn, proc, data); err != nil {
			return normalizeClose(err)
		}
	}
}

// drain swaps data for newer buffered frames until none arrive within the
// drain wait.
func (h *Handler) drain(data []byte, frames <-chan []byte) []byte {
	timer := time.NewTimer(h.drainWait)
	defer timer.Stop()
	for {
		select {
		case newer := <-frames:
			data = newer
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(h.drainWait)
		case <-timer.C:
			return data
		}
	}
}

// processFrame decodes, renders and replies with one frame. Per-frame
// failures are contained: undecodable input is echoed back unchanged and
// encode failures drop the reply, neither ends the connection.
func (h *Handler) processFrame(ctx context.Context, conn *websocket.Conn, proc *pipeline.Processor, data []byte) error {
	frame, err := imaging.Decode(data)
	if err != nil {
		return conn.Write(ctx, websocket.MessageBinary, data)
	}
	defer frame.Close()

	imaging.CapWidth(&frame, imaging.MaxStreamWidth)
	proc.Render(&frame)

	out, err := imaging.EncodeJPEG(frame, imaging.StreamQuality)
	if err != nil {
		h.log.Warn().Err(err).Msg("frame encode failed")
		return nil
	}

	return conn.Write(ctx, websocket.MessageBinary, out)
}

// normalizeClose treats client disconnects as normal termination
func normalizeClose(err error) error {
	if err == nil {
		return nil
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || status == websocket.StatusNoStatusRcvd {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
