package prior

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/longbow-descant/internal/config"
)

// Weights checkpoint format ("LBDW"):
//
//	uint32 magic, uint32 version, uint32 tensor count
//	per tensor: uint32 name length, name bytes,
//	            uint32 ndims, int64 dims..., float32 data (row-major)
//
// All integers and floats are little-endian. Values are stored as float32;
// in memory the engine works in float64.
const (
	weightsMagic   = 0x5744424C // "LBDW"
	weightsVersion = 1
)

// TensorInfo describes one stored tensor, for inspection tools.
type TensorInfo struct {
	Name string
	Dims []int64
}

func (t TensorInfo) Elems() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Save writes the weights checkpoint.
func (w *Weights) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	refs := w.manifest()

	header := []uint32{weightsMagic, weightsVersion, uint32(len(refs))}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}

	for _, ref := range refs {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(ref.name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(ref.name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(ref.dims))); err != nil {
			return err
		}
		for _, d := range ref.dims {
			if err := binary.Write(bw, binary.LittleEndian, int64(d)); err != nil {
				return err
			}
		}
		buf := make([]byte, 4)
		for _, v := range ref.data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// LoadWeights restores a checkpoint into weights shaped by params. Every
// tensor the parameters declare must be present with matching dimensions.
func LoadWeights(p *config.Params, path string) (*Weights, error) {
	w, err := NewWeights(p, 0)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br := bufio.NewReader(f)

	count, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	stored := make(map[string]TensorInfo, count)
	data := make(map[string][]float64, count)
	for i := uint32(0); i < count; i++ {
		info, values, err := readTensor(br)
		if err != nil {
			return nil, fmt.Errorf("weights file %s: tensor %d: %w", path, i, err)
		}
		stored[info.Name] = info
		data[info.Name] = values
	}

	for _, ref := range w.manifest() {
		info, ok := stored[ref.name]
		if !ok {
			return nil, fmt.Errorf("weights file %s: missing tensor %q", path, ref.name)
		}
		if !dimsMatch(info.Dims, ref.dims) {
			return nil, fmt.Errorf("tensor %q: declared %v, stored %v: %w",
				ref.name, ref.dims, info.Dims, ErrTensorShape)
		}
		copy(ref.data, data[ref.name])
		delete(stored, ref.name)
	}
	for name := range stored {
		return nil, fmt.Errorf("weights file %s: unexpected tensor %q", path, name)
	}
	return w, nil
}

// LoadPrior re-instantiates a stored prior: parameters first, then weights
// verified against them.
func LoadPrior(paramsPath, weightsPath string, backbone Backbone) (*Prior, error) {
	p, err := config.Load(paramsPath)
	if err != nil {
		return nil, err
	}
	w, err := LoadWeights(p, weightsPath)
	if err != nil {
		return nil, err
	}
	return New(p, w, backbone)
}

// ReadManifest lists the tensors stored in a checkpoint without shaping
// them against parameters.
func ReadManifest(path string) ([]TensorInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br := bufio.NewReader(f)

	count, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	infos := make([]TensorInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		info, _, err := readTensor(br)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func readHeader(r io.Reader) (count uint32, err error) {
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, err
	}
	if header[0] != weightsMagic {
		return 0, ErrBadMagic{Magic: header[0]}
	}
	if header[1] != weightsVersion {
		return 0, ErrBadVersion{Version: header[1]}
	}
	return header[2], nil
}

func readTensor(r io.Reader) (TensorInfo, []float64, error) {
	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return TensorInfo{}, nil, err
	}
	if nameLen == 0 || nameLen > 1024 {
		return TensorInfo{}, nil, fmt.Errorf("implausible tensor name length %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return TensorInfo{}, nil, err
	}

	var ndims uint32
	if err := binary.Read(r, binary.LittleEndian, &ndims); err != nil {
		return TensorInfo{}, nil, err
	}
	if ndims == 0 || ndims > 4 {
		return TensorInfo{}, nil, fmt.Errorf("tensor %q: implausible rank %d", name, ndims)
	}
	dims := make([]int64, ndims)
	elems := int64(1)
	for i := range dims {
		if err := binary.Read(r, binary.LittleEndian, &dims[i]); err != nil {
			return TensorInfo{}, nil, err
		}
		if dims[i] <= 0 {
			return TensorInfo{}, nil, fmt.Errorf("tensor %q: invalid dim %d", name, dims[i])
		}
		elems *= dims[i]
	}

	raw := make([]byte, elems*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return TensorInfo{}, nil, err
	}
	values := make([]float64, elems)
	for i := range values {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		values[i] = float64(math.Float32frombits(bits))
	}
	return TensorInfo{Name: string(name), Dims: dims}, values, nil
}

func dimsMatch(stored []int64, want []int) bool {
	if len(stored) != len(want) {
		return false
	}
	for i := range stored {
		if stored[i] != int64(want[i]) {
			return false
		}
	}
	return true
}
