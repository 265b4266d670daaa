package detector

import (
	"context"
	"errors"
	"strings"

	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

// Chain runs several detectors and merges their findings per tool, keeping
// the most confident one. A failing detector does not hide the others'
// results; its error is returned alongside them.
type Chain []port.Detector

func (c Chain) Detect(ctx context.Context, app domain.Application) ([]domain.ToolDetection, error) {
	var (
		merged []domain.ToolDetection
		index  = map[string]int{}
		errs   []error
	)
	for _, d := range c {
		found, err := d.Detect(ctx, app)
		if err != nil {
			errs = append(errs, err)
		}
		for _, det := range found {
			key := strings.ToLower(det.Tool)
			if i, ok := index[key]; ok {
				if det.Confidence > merged[i].Confidence {
					merged[i] = det
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, det)
		}
	}
	return merged, errors.Join(errs...)
}
