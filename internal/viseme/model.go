package viseme

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/normanking/cortexviseme/internal/spectral"
)

const (
	// RecordSize is the encoded size of one SlotModel: Bins little-endian
	// float32 values followed by a little-endian int32 train count.
	RecordSize = spectral.Bins*4 + 4

	// FileSize is the encoded size of a full model file.
	FileSize = SlotCount * RecordSize
)

var ErrShortModel = errors.New("viseme: model data truncated")

// SlotModel is the running-mean fingerprint of one slot.
type SlotModel struct {
	Bins       [spectral.Bins]float32
	TrainCount uint32
}

// Trained reports whether the slot has seen at least one training block.
func (m *SlotModel) Trained() bool {
	return m.TrainCount > 0
}

// Norm returns the L2 norm of the mean fingerprint.
func (m *SlotModel) Norm() float32 {
	var sum float32
	for _, v := range m.Bins {
		sum += v * v
	}
	return float32(math.Sqrt(float64(sum)))
}

// Models is the fixed set of slot models, in slot order.
//
// The binary form has no header and no version: it is FileSize bytes of
// records in slot order. Changing spectral.Bins or SlotCount makes older
// files decode as garbage without any error.
type Models [SlotCount]SlotModel

// MarshalBinary encodes the models in the fixed file layout.
func (m *Models) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FileSize)
	m.encode(buf)
	return buf, nil
}

// UnmarshalBinary decodes the first FileSize bytes of data. Trailing bytes
// are ignored. On error m is left untouched.
func (m *Models) UnmarshalBinary(data []byte) error {
	if len(data) < FileSize {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortModel, len(data), FileSize)
	}
	var tmp Models
	tmp.decode(data[:FileSize])
	*m = tmp
	return nil
}

// WriteTo writes the encoded models to w.
func (m *Models) WriteTo(w io.Writer) (int64, error) {
	var buf [FileSize]byte
	m.encode(buf[:])
	n, err := w.Write(buf[:])
	return int64(n), err
}

// ReadFrom reads exactly FileSize bytes from r and decodes them. On error m
// is left untouched.
func (m *Models) ReadFrom(r io.Reader) (int64, error) {
	var buf [FileSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return int64(n), fmt.Errorf("%w: %d of %d bytes", ErrShortModel, n, FileSize)
		}
		return int64(n), err
	}
	var tmp Models
	tmp.decode(buf[:])
	*m = tmp
	return int64(n), nil
}

func (m *Models) encode(buf []byte) {
	off := 0
	for s := range m {
		for _, v := range m[s].Bins {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
		binary.LittleEndian.PutUint32(buf[off:], m[s].TrainCount)
		off += 4
	}
}

func (m *Models) decode(buf []byte) {
	off := 0
	for s := range m {
		for i := range m[s].Bins {
			m[s].Bins[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
		m[s].TrainCount = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
}

// SaveModels writes m to path through a temporary file in the same
// directory, so a failed save never leaves a truncated model behind.
func SaveModels(path string, m *Models) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := m.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace model file: %w", err)
	}
	return nil
}

// LoadModels reads a model file from path.
func LoadModels(path string) (*Models, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	var m Models
	if _, err := m.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the classifier's models to path.
func (c *Classifier) Save(path string) error {
	return SaveModels(path, &c.models)
}

// Load replaces the classifier's models with the contents of path. The
// models are unchanged when the file is missing, short or unreadable.
func (c *Classifier) Load(path string) error {
	m, err := LoadModels(path)
	if err != nil {
		return err
	}
	c.models = *m
	return nil
}
