package enhance

import (
	"path/filepath"

	"srtile/internal/models"
	"srtile/pkg/imageio"
	"srtile/pkg/normalize"
)

// saveIntermediaryResult writes a 3-channel tensor as a PNG when
// intermediary results are enabled. Failures are logged, never returned.
func (e *Enhancer) saveIntermediaryResult(stage string, t *models.Tensor, domain models.ValueDomain) {
	if e.params.IntermediaryDir == "" || t == nil || t.C != 3 {
		return
	}

	r, err := normalize.Denormalize(t, nil, models.RGB, domain)
	if err == nil {
		err = imageio.Save(filepath.Join(e.params.IntermediaryDir, stage+".png"), r)
	}
	if err != nil {
		e.logger.Printf("Warning: Failed to save intermediary result %s: %v", stage, err)
	}
}
