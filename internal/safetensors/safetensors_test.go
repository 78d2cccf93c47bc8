package safetensors

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// writeRawSafetensors builds a file byte-by-byte, bypassing Writer, so
// corrupt headers can be produced.
func writeRawSafetensors(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		t.Fatalf("write header len: %v", err)
	}
	if _, err := f.Write(headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			t.Fatalf("write data: %v", err)
		}
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	w := NewWriter()
	w.SetMetadata("format", "pt")
	values := []float32{1, -2.5, 0.125, 4}
	if err := w.AddF32("encoder.weight", []int{2, 2}, values); err != nil {
		t.Fatalf("add f32: %v", err)
	}
	if err := w.Add("encoder.mask", "U8", []int{3}, []byte{1, 0, 1}); err != nil {
		t.Fatalf("add u8: %v", err)
	}
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if len(f.Tensors) != 2 {
		t.Fatalf("expected 2 tensors, got %d", len(f.Tensors))
	}
	if f.Metadata["format"] != "pt" {
		t.Fatalf("metadata lost: %v", f.Metadata)
	}
	if len(f.Names) != 2 || f.Names[0] != "encoder.mask" || f.Names[1] != "encoder.weight" {
		t.Fatalf("names not sorted: %v", f.Names)
	}

	got, info, err := f.ReadTensorF32("encoder.weight")
	if err != nil {
		t.Fatalf("read f32: %v", err)
	}
	if info.DType != "F32" || len(info.Shape) != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	for i, v := range values {
		if got[i] != v {
			t.Fatalf("element %d: expected %f, got %f", i, v, got[i])
		}
	}

	mask, _, err := f.TensorData("encoder.mask")
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if !bytes.Equal(mask, []byte{1, 0, 1}) {
		t.Fatalf("u8 tensor mismatch: %v", mask)
	}
}

func TestWriterDeterministic(t *testing.T) {
	t.Parallel()

	build := func(order []string) []byte {
		w := NewWriter()
		w.SetMetadata("k", "v")
		for _, name := range order {
			if err := w.AddF32(name, []int{2}, []float32{1, 2}); err != nil {
				t.Fatalf("add %s: %v", name, err)
			}
		}
		var buf bytes.Buffer
		if err := w.WriteTo(&buf); err != nil {
			t.Fatalf("write: %v", err)
		}
		return buf.Bytes()
	}

	a := build([]string{"alpha", "beta", "gamma"})
	b := build([]string{"gamma", "alpha", "beta"})
	if !bytes.Equal(a, b) {
		t.Fatal("insertion order changed the output bytes")
	}
}

func TestWriterValidation(t *testing.T) {
	t.Parallel()
	w := NewWriter()
	if err := w.Add("t", "F32", []int{2}, make([]byte, 4)); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if err := w.Add("__metadata__", "F32", []int{1}, make([]byte, 4)); err == nil {
		t.Fatal("expected reserved name error")
	}
	if err := w.Add("t", "F32", []int{2}, make([]byte, 8)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Add("t", "F32", []int{2}, make([]byte, 8)); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := w.Add("u", "Q4_K", []int{2}, make([]byte, 8)); err == nil {
		t.Fatal("expected unsupported dtype error")
	}
}

func TestQuantPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "quant.safetensors")

	const (
		rows = 4
		cols = 64
	)
	vals := make([]float32, rows*cols)
	for i := range vals {
		vals[i] = float32((i%19)-9) * 0.04
	}
	payload, err := qblock.Quantize(vals, rows, cols, qblock.DTypeK4)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	w := NewWriter()
	if err := w.AddQuant("layer.weight", qblock.DTypeK4, rows, cols, payload); err != nil {
		t.Fatalf("add quant: %v", err)
	}
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	dt, r, c, ok := f.QuantInfo("layer.weight")
	if !ok {
		t.Fatal("quant info missing")
	}
	if dt != qblock.DTypeK4 || r != rows || c != cols {
		t.Fatalf("quant info = %s %dx%d", dt, r, c)
	}

	got, info, err := f.TensorData("layer.weight")
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if info.DType != "U8" {
		t.Fatalf("storage dtype = %s, want U8", info.DType)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload bytes changed in round trip")
	}

	if _, _, _, ok := f.QuantInfo("nonexistent"); ok {
		t.Fatal("quant info for missing tensor")
	}
}

func TestQuantInfoParsing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		val string
		ok  bool
	}{
		{"k4:768x768", true},
		{"q8:1x32", true},
		{"k4", false},
		{"k4:768", false},
		{"k4:0x768", false},
		{"k4:768xbad", false},
		{"zz:1x1", false},
	}
	for _, tc := range cases {
		_, _, _, ok := parseQuantMeta(tc.val)
		if ok != tc.ok {
			t.Errorf("parseQuantMeta(%q): ok=%v, want %v", tc.val, ok, tc.ok)
		}
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	_, err := Open("/nonexistent/file.safetensors")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for truncated file")
	}
}

func TestOpenHeaderLengthOutOfRange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "badlen.safetensors")
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], 1<<40)
	if err := os.WriteFile(path, buf[:], 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for oversized header length")
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "invalid.safetensors")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 12)
	_, _ = f.Write(lenBuf[:])
	_, _ = f.Write([]byte("not valid js"))
	_ = f.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid JSON header")
	}
}

func TestInvalidDataOffsets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad_offsets.safetensors")
	writeRawSafetensors(t, path, map[string]any{
		"bad_tensor": map[string]any{
			"dtype":        "F32",
			"shape":        []int{1},
			"data_offsets": []int64{0},
		},
	}, nil)

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid data_offsets")
	}
}

func TestOffsetsPastEndRejected(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overrun.safetensors")
	writeRawSafetensors(t, path, map[string]any{
		"t": map[string]any{
			"dtype":        "F32",
			"shape":        []int{4},
			"data_offsets": []int64{0, 16},
		},
	}, make([]byte, 8)) // only half the declared bytes present

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for offsets past end of file")
	}
}

func TestTensorNotFound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.safetensors")

	w := NewWriter()
	if err := w.AddF32("a", []int{1}, []float32{1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, ok := f.Tensor("nonexistent"); ok {
		t.Fatal("expected tensor not found")
	}
	if _, _, err := f.ReadTensor("nonexistent"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestReadTensorBF16(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bf16.safetensors")

	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], 0x3F80) // 1.0
	binary.LittleEndian.PutUint16(data[2:], 0x4000) // 2.0
	writeRawSafetensors(t, path, map[string]any{
		"test": map[string]any{
			"dtype":        "BF16",
			"shape":        []int{2},
			"data_offsets": []int64{0, 4},
		},
	}, data)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	result, _, err := f.ReadTensorF32("test")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if len(result) != 2 || result[0] != 1.0 || result[1] != 2.0 {
		t.Fatalf("bf16 decode mismatch: %v", result)
	}
}

func TestReadTensorF16(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "f16.safetensors")

	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data[0:], 0x3C00) // 1.0
	writeRawSafetensors(t, path, map[string]any{
		"test": map[string]any{
			"dtype":        "F16",
			"shape":        []int{1},
			"data_offsets": []int64{0, 2},
		},
	}, data)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	result, _, err := f.ReadTensorF32("test")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if len(result) != 1 || result[0] != 1.0 {
		t.Fatalf("f16 decode mismatch: %v", result)
	}
}

func TestReadTensorUnsupportedDType(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "unsupported.safetensors")
	writeRawSafetensors(t, path, map[string]any{
		"test": map[string]any{
			"dtype":        "I32",
			"shape":        []int{2},
			"data_offsets": []int64{0, 8},
		},
	}, make([]byte, 8))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, _, err := f.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}

func TestReadTensorSizeMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mismatch.safetensors")
	// Shape says 4 elements but only 8 bytes (2 F32 values) present.
	writeRawSafetensors(t, path, map[string]any{
		"test": map[string]any{
			"dtype":        "F32",
			"shape":        []int{4},
			"data_offsets": []int64{0, 8},
		},
	}, make([]byte, 8))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, _, err := f.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}

func TestOpenReaderAt(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	if err := w.AddF32("x", []int{2}, []float32{3, 4}); err != nil {
		t.Fatalf("add: %v", err)
	}
	var buf bytes.Buffer
	if err := w.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := OpenReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.mmapped {
		t.Fatal("OpenReaderAt should not mmap")
	}
	got, _, err := f.ReadTensorF32("x")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 3 || got[1] != 4 {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestNumElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape    []int
		expected int
		wantErr  bool
	}{
		{[]int{2, 3}, 6, false},
		{[]int{1}, 1, false},
		{[]int{4, 5, 6}, 120, false},
		{[]int{}, 0, true},
		{[]int{0}, 0, true},
		{[]int{-1}, 0, true},
		{[]int{2, -1}, 0, true},
	}

	for _, tc := range tests {
		n, err := numElements(tc.shape)
		if tc.wantErr {
			if err == nil {
				t.Errorf("numElements(%v): expected error", tc.shape)
			}
			continue
		}
		if err != nil {
			t.Errorf("numElements(%v): unexpected error: %v", tc.shape, err)
			continue
		}
		if n != tc.expected {
			t.Errorf("numElements(%v): expected %d, got %d", tc.shape, tc.expected, n)
		}
	}
}

func TestBf16ToF32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    uint16
		expected float32
	}{
		{0x3F80, 1.0},
		{0x4000, 2.0},
		{0xBF80, -1.0},
		{0x0000, 0.0},
		{0x4040, 3.0},
	}

	for _, tc := range tests {
		if result := bf16ToF32(tc.input); result != tc.expected {
			t.Errorf("bf16ToF32(0x%04X): expected %f, got %f", tc.input, tc.expected, result)
		}
	}
}

func TestFp16ToFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    uint16
		expected float32
	}{
		{0x3C00, 1.0},
		{0x4000, 2.0},
		{0xBC00, -1.0},
		{0x0000, 0.0},
		{0x8000, math.Float32frombits(0x80000000)}, // -0
		{0x7C00, float32(math.Inf(1))},
		{0xFC00, float32(math.Inf(-1))},
	}

	for _, tc := range tests {
		result := fp16ToFloat32(tc.input)
		if math.IsInf(float64(tc.expected), 0) {
			if !math.IsInf(float64(result), 0) {
				t.Errorf("fp16ToFloat32(0x%04X): expected inf, got %f", tc.input, result)
			}
			continue
		}
		if result != tc.expected {
			t.Errorf("fp16ToFloat32(0x%04X): expected %f, got %f", tc.input, tc.expected, result)
		}
	}
}
