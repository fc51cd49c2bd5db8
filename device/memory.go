package device

import (
	"github.com/pkg/errors"
)

// Memory is an in-RAM Device, the Go analogue of the original's
// demo/pc_emu simulated flash: a flat byte slice standing in for the
// physical medium, useful for tests and for the CLI's throwaway runs.
type Memory struct {
	geo  Geometry
	data []byte
}

// NewMemory allocates a Memory device pre-filled with the erased byte.
func NewMemory(geo Geometry) (*Memory, error) {
	if err := geo.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid memory device geometry")
	}
	m := &Memory{geo: geo}
	if err := m.Init(); err != nil {
		return nil, err
	}
	return m, nil
}

// Init allocates the backing buffer the first time it is called,
// pre-filled with the erased byte; later calls are a no-op, mirroring
// FileDevice.Init's "create if absent, otherwise keep contents"
// contract so that Mount (which always calls Init) does not wipe a
// previously formatted Memory device.
func (m *Memory) Init() error {
	if m.data != nil {
		return nil
	}
	m.data = make([]byte, m.geo.totalBytes())
	for i := range m.data {
		m.data[i] = m.geo.ErasedByte
	}
	return nil
}

func (m *Memory) Read(block, page uint16, offset uint32, buf []byte) error {
	if err := checkBounds(m.geo, block, page, offset, len(buf)); err != nil {
		return errors.Wrapf(err, "read %s", fmtAddr(block, page))
	}
	start := pageStart(m.geo, block, page) + int(offset)
	copy(buf, m.data[start:start+len(buf)])
	return nil
}

func (m *Memory) Program(block, page uint16, offset uint32, buf []byte) error {
	if err := checkBounds(m.geo, block, page, offset, len(buf)); err != nil {
		return errors.Wrapf(err, "program %s", fmtAddr(block, page))
	}
	start := pageStart(m.geo, block, page) + int(offset)
	existing := m.data[start : start+len(buf)]
	if !isProgrammable(existing, buf, m.geo.ErasedByte) {
		return errors.Wrapf(ErrWouldRequireErase, "program %s", fmtAddr(block, page))
	}
	copy(existing, buf)
	return nil
}

func (m *Memory) Erase(block uint16) error {
	if block >= m.geo.Blocks {
		return errors.Errorf("erase: block %d out of range", block)
	}
	start := int(block) * int(m.geo.blockBytes())
	end := start + int(m.geo.blockBytes())
	for i := start; i < end; i++ {
		m.data[i] = m.geo.ErasedByte
	}
	return nil
}

func (m *Memory) Delete() error {
	m.data = nil
	return nil
}

// IsErased reports whether every byte of the given page matches the
// erased polarity, read straight from the backing buffer.
func (m *Memory) IsErased(block, page uint16) (bool, error) {
	buf := make([]byte, m.geo.PageBytes)
	if err := m.Read(block, page, 0, buf); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != m.geo.ErasedByte {
			return false, nil
		}
	}
	return true, nil
}
