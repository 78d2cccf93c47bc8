package train

import (
	"context"
	"fmt"

	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/model"
)

// Evaluate measures argmax accuracy over an encoded split. Cancellation
// is checked between examples; a panic in the forward pass is returned
// as an error so one broken trial cannot take down a sweep.
func Evaluate(ctx context.Context, m *model.Classifier, data []dataset.Encoded) (acc float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during evaluation: %v", rec)
		}
	}()

	if len(data) == 0 {
		return 0, fmt.Errorf("empty evaluation split")
	}

	correct := 0
	for i := range data {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pred, err := m.Predict(data[i].IDs)
		if err != nil {
			return 0, fmt.Errorf("example %d: %w", i, err)
		}
		if pred == data[i].Label {
			correct++
		}
	}
	return float64(correct) / float64(len(data)), nil
}
