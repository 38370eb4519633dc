package wavenet

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ===========================================================================
// Snapshot format
// ===========================================================================
//
//  1. Header length (uint32, little-endian)
//  2. Header (JSON): model config plus the name and shape of every parameter
//  3. Parameter data in header order (float64, little-endian)
// ===========================================================================

type snapshotHeader struct {
	Config Config           `json:"config"`
	Params []snapshotTensor `json:"params"`
}

type snapshotTensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Save writes the config and all parameters to w.
func (m *Model) Save(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := snapshotHeader{Config: m.config}
	for _, p := range m.params {
		header.Params = append(header.Params, snapshotTensor{Name: p.name, Shape: p.value.Shape().Clone()})
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range m.params {
		if err := binary.Write(bw, binary.LittleEndian, p.value.Float64s()); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.name, err)
		}
	}
	return bw.Flush()
}

// SaveFile writes a snapshot to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a snapshot written by Save into a new model.
func Load(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)

	var headerLen uint32
	if err := binary.Read(br, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrInvalidSnapshot, err)
	}
	if headerLen > 1<<24 {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidSnapshot, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(br, headerJSON); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidSnapshot, err)
	}

	var header snapshotHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidSnapshot, err)
	}

	m, err := New(header.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if len(header.Params) != len(m.params) {
		return nil, fmt.Errorf("%w: %d parameters, model has %d", ErrInvalidSnapshot, len(header.Params), len(m.params))
	}

	for i, p := range m.params {
		want := header.Params[i]
		if want.Name != p.name || !p.value.Shape().Eq(want.Shape) {
			return nil, fmt.Errorf("%w: parameter %d is %s%v, model expects %s%v",
				ErrInvalidSnapshot, i, want.Name, want.Shape, p.name, p.value.Shape())
		}
		if err := binary.Read(br, binary.LittleEndian, p.value.Float64s()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, p.name, err)
		}
	}
	return m, nil
}

// LoadFile reads a snapshot from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
