package train

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/tensor"
)

// extractFeatures runs the frozen encoder over every example and copies
// out the pooled vector. With frozenPre set, the pre_classifier layer
// and tanh are folded in as well, leaving only the final classifier
// trainable. Workers > 1 shards the examples across model clones; the
// encoder weights are shared, only forward scratch is duplicated.
func extractFeatures(ctx context.Context, m *model.Classifier, data []dataset.Encoded, workers int, frozenPre bool) ([][]float32, []int, error) {
	feats := make([][]float32, len(data))
	labels := make([]int, len(data))
	for i := range data {
		labels[i] = data[i].Label
	}

	if workers > len(data) {
		workers = len(data)
	}
	if workers <= 1 {
		if err := extractRange(ctx, m, data, feats, 0, len(data), frozenPre); err != nil {
			return nil, nil, err
		}
		return feats, labels, nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		fail error
	)
	chunk := (len(data) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		rs := w * chunk
		re := rs + chunk
		if re > len(data) {
			re = len(data)
		}
		if rs >= re {
			break
		}
		clone := m
		if w > 0 {
			clone = m.Clone()
		}
		wg.Add(1)
		go func(c *model.Classifier, rs, re int) {
			defer wg.Done()
			if err := extractRange(ctx, c, data, feats, rs, re, frozenPre); err != nil {
				mu.Lock()
				if fail == nil {
					fail = err
				}
				mu.Unlock()
			}
		}(clone, rs, re)
	}
	wg.Wait()
	if fail != nil {
		return nil, nil, fail
	}
	return feats, labels, nil
}

func extractRange(ctx context.Context, m *model.Classifier, data []dataset.Encoded, feats [][]float32, rs, re int, frozenPre bool) error {
	hidden := m.Config.HiddenSize
	var pre []float32
	if frozenPre {
		pre = make([]float32, m.PreClassifier.OutFeatures())
	}
	for i := rs; i < re; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pooled, err := m.Encode(data[i].IDs)
		if err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
		if frozenPre {
			m.PreClassifier.Forward(pre, pooled)
			tensor.TanhSlice(pre)
			feats[i] = append([]float32(nil), pre...)
			continue
		}
		feats[i] = append([]float32(nil), pooled[:hidden]...)
	}
	return nil
}
