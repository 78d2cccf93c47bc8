// Package safetensors reads and writes the huggingface safetensors
// container: an 8-byte little-endian header length, a JSON header
// describing dtype/shape/offsets per tensor, then raw tensor data.
//
// Files are mapped read-only where the platform allows it, so tensor
// payloads can be sliced without copying. Quantized payloads are stored
// as U8 tensors with their logical dtype and shape recorded in the
// header metadata.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// Metadata key prefix for quantized payload descriptors. The value is
// "<dtype>:<rows>x<cols>", eg "k4:768x768".
const quantMetaPrefix = "qsweep.quant."

var (
	ErrCorruptFile = fmt.Errorf("safetensors: corrupt file")
	ErrTooLarge    = fmt.Errorf("safetensors: file too large")
)

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors file. Tensor data slices returned by
// TensorData alias the underlying mapping and must not be retained
// after Close.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Names     []string
	Metadata  map[string]string

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps the file read-only and parses its header. If mmap is
// unavailable it falls back to reading the whole file into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrTooLarge
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		sf, parseErr := parseFileData(path, data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return sf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(path, data, false)
}

// OpenReaderAt parses a safetensors payload from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 8 {
		return nil, ErrCorruptFile
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, ErrTooLarge
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData("", data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(path string, data []byte, mmapped bool) (*File, error) {
	if len(data) < 8 {
		return nil, ErrCorruptFile
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, ErrCorruptFile
	}
	dataStart := int64(8 + headerLen)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:dataStart], &raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	metadata := map[string]string{}
	if msg, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(msg, &metadata); err != nil {
			return nil, fmt.Errorf("safetensors: parse metadata: %w", err)
		}
		delete(raw, "__metadata__")
	}

	dataLen := int64(len(data)) - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	names := make([]string, 0, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("safetensors: parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("safetensors: tensor %s: invalid data_offsets", name)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > dataLen {
			return nil, fmt.Errorf("safetensors: tensor %s: offsets out of range", name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: start,
			End:   end,
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &File{
		Path:      path,
		DataStart: dataStart,
		Tensors:   tensors,
		Names:     names,
		Metadata:  metadata,
		data:      data,
		mmapped:   mmapped,
	}, nil
}

// Close releases the mapping. The file is unusable afterwards.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.Tensors = nil
	f.Names = nil
	f.mmapped = false
	return err
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// TensorData returns a zero-copy slice over the tensor's raw bytes.
func (f *File) TensorData(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor not found: %s", name)
	}
	if f.data == nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: file closed")
	}
	start := f.DataStart + t.Start
	end := f.DataStart + t.End
	return f.data[start:end], t, nil
}

// ReadTensor returns a copy of the tensor's raw bytes.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	view, t, err := f.TensorData(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	buf := make([]byte, len(view))
	copy(buf, view)
	return buf, t, nil
}

// ReadTensorF32 decodes a tensor to float32, converting from F32, F16 or
// BF16 storage.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.TensorData(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	switch info.DType {
	case "F32":
		if len(raw) != n*4 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: invalid f32 data size", name)
		}
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, info, nil
	case "BF16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: invalid bf16 data size", name)
		}
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, info, nil
	case "F16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: invalid f16 data size", name)
		}
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, info, nil
	default:
		return nil, TensorInfo{}, fmt.Errorf("safetensors: unsupported dtype %s", info.DType)
	}
}

// QuantInfo reports the logical dtype and shape of a quantized payload
// recorded in the file metadata, or ok=false if the tensor is not
// quantized.
func (f *File) QuantInfo(name string) (dt qblock.DType, rows, cols int, ok bool) {
	val, found := f.Metadata[quantMetaPrefix+name]
	if !found {
		return 0, 0, 0, false
	}
	return parseQuantMeta(val)
}

func parseQuantMeta(val string) (qblock.DType, int, int, bool) {
	dtStr, shape, ok := strings.Cut(val, ":")
	if !ok {
		return 0, 0, 0, false
	}
	dt, err := qblock.ParseDType(dtStr)
	if err != nil {
		return 0, 0, 0, false
	}
	rStr, cStr, ok := strings.Cut(shape, "x")
	if !ok {
		return 0, 0, 0, false
	}
	rows, err := strconv.Atoi(rStr)
	if err != nil || rows <= 0 {
		return 0, 0, 0, false
	}
	cols, err := strconv.Atoi(cStr)
	if err != nil || cols <= 0 {
		return 0, 0, 0, false
	}
	return dt, rows, cols, true
}

func formatQuantMeta(dt qblock.DType, rows, cols int) string {
	return dt.String() + ":" + strconv.Itoa(rows) + "x" + strconv.Itoa(cols)
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
