package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// Writer accumulates tensors in memory and serialises them as a
// safetensors file. Tensors are laid out in name order so the same
// inputs always produce byte-identical files.
type Writer struct {
	entries  map[string]writerEntry
	metadata map[string]string
}

type writerEntry struct {
	dtype string
	shape []int
	data  []byte
}

func NewWriter() *Writer {
	return &Writer{
		entries:  make(map[string]writerEntry),
		metadata: make(map[string]string),
	}
}

// SetMetadata records a key under the header's __metadata__ block.
func (w *Writer) SetMetadata(key, value string) {
	w.metadata[key] = value
}

// Add registers a tensor. The data length must match the shape for the
// given storage dtype (F32: 4 bytes/elem, F16/BF16: 2, U8: 1).
func (w *Writer) Add(name, dtype string, shape []int, data []byte) error {
	if name == "" || name == "__metadata__" {
		return fmt.Errorf("safetensors: invalid tensor name %q", name)
	}
	if _, ok := w.entries[name]; ok {
		return fmt.Errorf("safetensors: duplicate tensor %s", name)
	}
	n, err := numElements(shape)
	if err != nil {
		return fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	elemSize, err := dtypeSize(dtype)
	if err != nil {
		return fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	if len(data) != n*elemSize {
		return fmt.Errorf("safetensors: tensor %s: data size %d does not match shape %v (%s)",
			name, len(data), shape, dtype)
	}
	w.entries[name] = writerEntry{dtype: dtype, shape: append([]int(nil), shape...), data: data}
	return nil
}

// AddF32 encodes a float32 slice as an F32 tensor.
func (w *Writer) AddF32(name string, shape []int, values []float32) error {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return w.Add(name, "F32", shape, data)
}

// AddQuant registers a block-quantized payload as a U8 tensor and
// records its logical dtype and shape in the metadata.
func (w *Writer) AddQuant(name string, dt qblock.DType, rows, cols int, payload []byte) error {
	want, err := qblock.PayloadSize(rows, cols, dt)
	if err != nil {
		return fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	if len(payload) != want {
		return fmt.Errorf("safetensors: tensor %s: payload size %d, want %d", name, len(payload), want)
	}
	if err := w.Add(name, "U8", []int{len(payload)}, payload); err != nil {
		return err
	}
	w.metadata[quantMetaPrefix+name] = formatQuantMeta(dt, rows, cols)
	return nil
}

// WriteTo serialises the file to dst.
func (w *Writer) WriteTo(dst io.Writer) error {
	names := make([]string, 0, len(w.entries))
	for name := range w.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(w.metadata) > 0 {
		header["__metadata__"] = w.metadata
	}
	var offset int64
	for _, name := range names {
		e := w.entries[name]
		header[name] = tensorHeader{
			DType:       e.dtype,
			Shape:       e.shape,
			DataOffsets: []int64{offset, offset + int64(len(e.data))},
		}
		offset += int64(len(e.data))
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: marshal header: %w", err)
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := dst.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := dst.Write(headerBytes); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := dst.Write(w.entries[name].data); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the file atomically: data goes to a temp file in the
// target directory which is fsynced and renamed over the destination.
func (w *Writer) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := w.WriteTo(bw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "F32", "I32":
		return 4, nil
	case "F16", "BF16":
		return 2, nil
	case "U8", "I8", "BOOL":
		return 1, nil
	case "F64", "I64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %s", dtype)
	}
}
