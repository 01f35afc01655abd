package jobs

import (
	"fmt"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/pipeline"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/tracking"
	"github.com/dudu/swapstream/internal/video"
)

// Progress is reported every progressEvery frames and caps below 100 until
// the job fully completes, so done is an unambiguous terminal signal.
const (
	progressEvery = 5
	progressCap   = 99
)

// NewVideoRunner builds the worker body for one job: read the input video
// frame by frame, apply the same track-and-swap step as the live path with
// a tracking cache private to the job, and write the output video.
func NewVideoRunner(log zerolog.Logger, refs *reference.Store, locator tracking.Locator, swapper pipeline.Swapper, cadence int) Runner {
	return func(inputPath, outputPath string, report func(progress float64, message string)) error {
		reader, err := video.OpenReader(inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input video: %w", err)
		}
		defer reader.Close()

		// Output dimensions follow the source through the working-resolution cap
		outWidth, outHeight := imaging.CappedSize(reader.Width(), reader.Height(), imaging.MaxStreamWidth)
		writer, err := video.NewWriter(outputPath, reader.FPS(), outWidth, outHeight)
		if err != nil {
			return fmt.Errorf("failed to prepare output video: %w", err)
		}
		defer writer.Close()

		proc := pipeline.NewProcessor(log, refs, tracking.NewCache(locator, cadence), swapper)
		total := reader.FrameCount()

		frame := gocv.NewMat()
		defer frame.Close()

		for index := 0; ; index++ {
			if !reader.Read(&frame) || frame.Empty() {
				break
			}

			imaging.CapWidth(&frame, imaging.MaxStreamWidth)
			proc.Render(&frame)

			if err := writer.Write(frame); err != nil {
				return fmt.Errorf("failed to write frame %d: %w", index, err)
			}

			if index%progressEvery == 0 && total > 0 {
				pct := float64(index) / float64(total) * 100
				if pct > progressCap {
					pct = progressCap
				}
				report(pct, fmt.Sprintf("processing frame %d/%d", index, total))
			}
		}

		return nil
	}
}
