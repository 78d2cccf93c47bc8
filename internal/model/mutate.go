package model

import (
	"fmt"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// LinearSlot is one addressable projection in the classifier. Set
// splices a replacement implementation into the model in place.
type LinearSlot struct {
	Name string
	Get  func() Linear
	Set  func(Linear)
}

// NamedLinears lists every linear layer in deterministic order: the six
// projections of each block, then the two head layers. Slot names match
// the checkpoint tensor names without the ".weight" suffix.
func (c *Classifier) NamedLinears() []LinearSlot {
	slots := make([]LinearSlot, 0, 6*len(c.Blocks)+2)
	for i := range c.Blocks {
		b := &c.Blocks[i]
		add := func(part string, get func() Linear, set func(Linear)) {
			slots = append(slots, LinearSlot{Name: layerName(i, part), Get: get, Set: set})
		}
		add("attention.q_lin", func() Linear { return b.QLin }, func(l Linear) { b.QLin = l })
		add("attention.k_lin", func() Linear { return b.KLin }, func(l Linear) { b.KLin = l })
		add("attention.v_lin", func() Linear { return b.VLin }, func(l Linear) { b.VLin = l })
		add("attention.out_lin", func() Linear { return b.OutLin }, func(l Linear) { b.OutLin = l })
		add("ffn.lin1", func() Linear { return b.Lin1 }, func(l Linear) { b.Lin1 = l })
		add("ffn.lin2", func() Linear { return b.Lin2 }, func(l Linear) { b.Lin2 = l })
	}
	slots = append(slots,
		LinearSlot{
			Name: preClassifierSlot,
			Get:  func() Linear { return c.PreClassifier },
			Set:  func(l Linear) { c.PreClassifier = l },
		},
		LinearSlot{
			Name: classifierSlot,
			Get:  func() Linear { return c.Classifier },
			Set:  func(l Linear) { c.Classifier = l },
		},
	)
	return slots
}

// minSwapElements keeps tiny projections dense; quantizing them saves
// almost nothing once the scale overhead is paid.
const minSwapElements = 1024

// Swappable reports whether a layer is eligible for quantized
// substitution. The classifier output stays dense so the trained head
// always produces full-precision logits; a layer must have at least
// minSwapElements weights and block-aligned input features.
func Swappable(name string, l Linear) bool {
	if l == nil || name == classifierSlot {
		return false
	}
	if l.InFeatures()*l.OutFeatures() < minSwapElements {
		return false
	}
	return l.InFeatures()%qblock.BlockSize == 0
}

// Kinds a chooser can pick for a swappable layer.
const (
	KindDense = "dense"
	KindQuant = "quant"
)

// Choice is a chooser's decision for one layer. Bits and ActBits are
// consulted only when Kind is KindQuant; a zero ActBits means int8
// activations.
type Choice struct {
	Kind    string
	Bits    int
	ActBits int
}

// LayerChoice records the final state of one swappable layer.
type LayerChoice struct {
	Name       string
	Kind       string
	WeightBits int
	ActBits    int
	Bytes      int64
}

// MutationReport is the per-trial configuration table: one row per
// swappable layer plus the model's weight bytes before and after.
type MutationReport struct {
	Layers      []LayerChoice
	BytesBefore int64
	BytesAfter  int64
}

// QuantLayers counts the layers that ended up quantized.
func (r *MutationReport) QuantLayers() int {
	n := 0
	for _, lc := range r.Layers {
		if lc.Kind == KindQuant {
			n++
		}
	}
	return n
}

// Compression is the bytes-before to bytes-after ratio.
func (r *MutationReport) Compression() float64 {
	if r.BytesAfter == 0 {
		return 0
	}
	return float64(r.BytesBefore) / float64(r.BytesAfter)
}

// Mutate walks the swappable layers and asks choose for each one.
// KindQuant replaces the slot with a frozen quantized copy built from
// the dense weights; KindDense leaves the slot alone. A layer that is
// already quantized cannot be quantized again.
func Mutate(c *Classifier, choose func(name string, l Linear) (Choice, error)) (*MutationReport, error) {
	report := &MutationReport{BytesBefore: c.Bytes()}
	for _, slot := range c.NamedLinears() {
		l := slot.Get()
		if !Swappable(slot.Name, l) {
			continue
		}
		choice, err := choose(slot.Name, l)
		if err != nil {
			return nil, fmt.Errorf("choose %s: %w", slot.Name, err)
		}
		switch choice.Kind {
		case KindDense:
			lc := LayerChoice{Name: slot.Name, Kind: KindDense, WeightBits: l.Bits(), ActBits: 32, Bytes: l.Bytes()}
			if q, quantized := l.(*Quant); quantized {
				lc.Kind = KindQuant
				lc.ActBits = q.ActBits
			}
			report.Layers = append(report.Layers, lc)
		case KindQuant:
			d, ok := l.(*Dense)
			if !ok {
				return nil, fmt.Errorf("%s: already quantized to %d bits", slot.Name, l.Bits())
			}
			dt, err := qblock.DTypeForBits(choice.Bits)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", slot.Name, err)
			}
			q, err := QuantizeLinear(d, dt)
			if err != nil {
				return nil, fmt.Errorf("quantize %s: %w", slot.Name, err)
			}
			if choice.ActBits == 32 {
				q.ActBits = 32
			}
			slot.Set(q)
			report.Layers = append(report.Layers, LayerChoice{
				Name: slot.Name, Kind: KindQuant, WeightBits: choice.Bits, ActBits: q.ActBits, Bytes: q.Bytes(),
			})
		default:
			return nil, fmt.Errorf("%s: unknown layer kind %q", slot.Name, choice.Kind)
		}
	}
	report.BytesAfter = c.Bytes()
	return report, nil
}
