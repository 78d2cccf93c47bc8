package tensor

import (
	"testing"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

func TestNewMatFromRawF16(t *testing.T) {
	raw := make([]byte, 4*8*2)
	m, err := NewMatFromRaw(4, 8, qblock.DTypeF16, raw)
	if err != nil {
		t.Fatalf("NewMatFromRaw: %v", err)
	}
	if m.R != 4 || m.C != 8 || m.Stride != 8 {
		t.Fatalf("unexpected shape: %+v", m)
	}

	if _, err := NewMatFromRaw(4, 8, qblock.DTypeF16, raw[:10]); err == nil {
		t.Fatal("expected error for short raw data")
	}
	if _, err := NewMatFromRaw(-1, 8, qblock.DTypeF16, raw); err == nil {
		t.Fatal("expected error for negative rows")
	}
}

func TestNewMatFromRawQuantSize(t *testing.T) {
	want, err := qblock.PayloadSize(2, 64, qblock.DTypeQ8)
	if err != nil {
		t.Fatalf("payload size: %v", err)
	}
	raw := make([]byte, want)
	if _, err := NewMatFromRaw(2, 64, qblock.DTypeQ8, raw); err != nil {
		t.Fatalf("NewMatFromRaw: %v", err)
	}
	if _, err := NewMatFromRaw(2, 64, qblock.DTypeQ8, raw[:want-1]); err == nil {
		t.Fatal("expected error for truncated payload")
	}
	if _, err := NewMatFromRaw(2, 64, qblock.DTypeF32, nil); err == nil {
		t.Fatal("expected error for f32 raw matrix")
	}
}

func TestRowAliasesDense(t *testing.T) {
	m := NewMat(3, 4)
	row := m.Row(1)
	row[2] = 42
	if m.Data[1*m.Stride+2] != 42 {
		t.Fatal("Row did not alias dense storage")
	}
}

func TestRowToF16(t *testing.T) {
	vals := []float32{0, 0.5, -1.25, 3}
	f16 := make([]uint16, len(vals))
	qblock.Float32ToFloat16Slice(vals, f16)
	raw := make([]byte, len(vals)*2)
	for i, h := range f16 {
		raw[i*2] = byte(h)
		raw[i*2+1] = byte(h >> 8)
	}
	m, err := NewMatFromRaw(1, len(vals), qblock.DTypeF16, raw)
	if err != nil {
		t.Fatalf("NewMatFromRaw: %v", err)
	}

	got := make([]float32, len(vals))
	m.RowTo(got, 0)
	// All inputs are exactly representable in f16.
	assertCloseSlice(t, got, vals, 0)
}

func TestFillRandDeterministic(t *testing.T) {
	a := NewMat(4, 16)
	b := NewMat(4, 16)
	FillRand(&a, 9)
	FillRand(&b, 9)
	assertCloseSlice(t, a.Data, b.Data, 0)

	c := NewMat(4, 16)
	FillRand(&c, 10)
	same := true
	for i := range a.Data {
		if a.Data[i] != c.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical matrices")
	}

	for _, v := range a.Data {
		if v < -0.01 || v > 0.01 {
			t.Fatalf("FillRand value %v outside expected range", v)
		}
	}
}
