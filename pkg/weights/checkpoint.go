package weights

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// tensorInfo describes one entry of a safetensors header
type tensorInfo struct {
	DType       string    `json:"dtype"`
	Shape       []int     `json:"shape"`
	DataOffsets [2]uint64 `json:"data_offsets"`
}

// LoadCheckpoint reads a checkpoint file and returns its preferred
// parameter set together with the top-level key it came from.
//
// A checkpoint is a safetensors container whose tensor names carry the
// top-level key as a prefix ("params_ema.conv_first.weight"). Files ending
// in ".zst" are zstd-compressed.
func LoadCheckpoint(path string) (Weights, string, error) {
	sets, err := ReadCheckpoint(path)
	if err != nil {
		return nil, "", err
	}
	w, key, err := Select(sets)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return w, key, nil
}

// ReadCheckpoint reads every top-level parameter set of a checkpoint
func ReadCheckpoint(path string) (map[string]Weights, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if isCompressed(path) {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	sets, err := DecodeCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sets, nil
}

// DecodeCheckpoint parses an uncompressed safetensors byte buffer
func DecodeCheckpoint(data []byte) (map[string]Weights, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size")
	}
	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if uint64(len(data)-8) < headerSize {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available", headerSize, len(data)-8)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	body := data[8+headerSize:]

	sets := make(map[string]Weights)
	for fullName, raw := range header {
		if fullName == "__metadata__" {
			continue
		}
		key, name, ok := strings.Cut(fullName, ".")
		if !ok {
			return nil, fmt.Errorf("tensor %q has no top-level key prefix", fullName)
		}

		var info tensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: bad header entry: %w", fullName, err)
		}
		p, err := decodeTensor(info, body)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", fullName, err)
		}

		if sets[key] == nil {
			sets[key] = make(Weights)
		}
		sets[key][name] = p
	}
	return sets, nil
}

func decodeTensor(info tensorInfo, body []byte) (*Param, error) {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start > end || end > uint64(len(body)) {
		return nil, fmt.Errorf("data offsets [%d, %d) out of bounds", start, end)
	}
	raw := body[start:end]

	p := &Param{Shape: info.Shape}
	n := p.Len()

	var size int
	switch info.DType {
	case "F64":
		size = 8
	case "F32":
		size = 4
	case "F16", "BF16":
		size = 2
	default:
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("has %d bytes, shape %v needs %d", len(raw), info.Shape, n*size)
	}

	p.Data = make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch info.DType {
		case "F64":
			p.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case "F32":
			p.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "F16":
			p.Data[i] = float64(float16ToFloat32(binary.LittleEndian.Uint16(b)))
		case "BF16":
			p.Data[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
		}
	}
	return p, nil
}

// float16ToFloat32 widens an IEEE 754 half-precision value
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

// SaveCheckpoint writes a parameter set under the given top-level key as
// F32 safetensors, zstd-compressed when path ends in ".zst"
func SaveCheckpoint(path, key string, w Weights) error {
	data, err := EncodeCheckpoint(map[string]Weights{key: w})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating checkpoint directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer file.Close()

	if !isCompressed(path) {
		if _, err := file.Write(data); err != nil {
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
		return nil
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return enc.Close()
}

// EncodeCheckpoint serializes parameter sets to an uncompressed safetensors
// buffer with F32 tensors
func EncodeCheckpoint(sets map[string]Weights) ([]byte, error) {
	var names []string
	for key, w := range sets {
		for name := range w {
			names = append(names, key+"."+name)
		}
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	var body bytes.Buffer
	for _, fullName := range names {
		key, name, _ := strings.Cut(fullName, ".")
		p := sets[key][name]
		if len(p.Data) != p.Len() {
			return nil, fmt.Errorf("tensor %s: %d values for shape %v", fullName, len(p.Data), p.Shape)
		}
		start := uint64(body.Len())
		buf := make([]byte, 4)
		for _, v := range p.Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			body.Write(buf)
		}
		shape := p.Shape
		if shape == nil {
			shape = []int{}
		}
		header[fullName] = tensorInfo{
			DType:       "F32",
			Shape:       shape,
			DataOffsets: [2]uint64{start, uint64(body.Len())},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	out := make([]byte, 8, 8+len(headerBytes)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(headerBytes)))
	out = append(out, headerBytes...)
	out = append(out, body.Bytes()...)
	return out, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zst")
}
