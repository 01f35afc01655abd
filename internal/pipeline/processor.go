// Package pipeline holds the per-frame track-and-swap step shared by the
// live stream and batch video paths.
package pipeline

import (
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/tracking"
)

// Processor renders one decoded frame: obtain a target from the tracking
// cache, swap the reference identity onto it, or fall back to a watermark.
// One Processor per stream or job; the tracking cache inside is exclusive
// to it.
type Processor struct {
	refs    *reference.Store
	cache   *tracking.Cache
	swapper Swapper
	log     zerolog.Logger
}

// NewProcessor creates a frame processor with its own tracking cache
func NewProcessor(log zerolog.Logger, refs *reference.Store, cache *tracking.Cache, swapper Swapper) *Processor {
	return &Processor{
		refs:    refs,
		cache:   cache,
		swapper: swapper,
		log:     log,
	}
}

// Render processes a decoded, working-resolution frame in place. Failures
// are contained to the frame: the caller always gets something to send,
// annotated when the swap could not happen.
func (p *Processor) Render(frame *gocv.Mat) {
	ref := p.refs.Get()
	if ref == nil {
		// Nothing to swap yet; skip detection entirely
		imaging.Watermark(frame, "")
		return
	}

	target, err := p.cache.Target(*frame)
	if err != nil {
		p.log.Warn().Err(err).Msg("face detection failed")
		imaging.Watermark(frame, imaging.WatermarkText)
		return
	}
	if target == nil {
		imaging.Watermark(frame, imaging.WatermarkText)
		return
	}

	if err := p.swapper.Swap(frame, target, &ref.Descriptor); err != nil {
		imaging.Watermark(frame, "swap error: "+err.Error())
	}
}
