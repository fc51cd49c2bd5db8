package device

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileDevice backs a Device with a single flat image file on the host
// filesystem, the Go analogue of the original's demo/pc_emu writing to
// a regular file instead of physical NOR flash.
type FileDevice struct {
	geo  Geometry
	path string
	f    *os.File
}

// NewFileDevice opens (creating if absent) the image file at path. A
// freshly created file is pre-filled with the erased byte.
func NewFileDevice(path string, geo Geometry) (*FileDevice, error) {
	if err := geo.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid file device geometry")
	}
	d := &FileDevice{geo: geo, path: path}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FileDevice) Init() error {
	_, statErr := os.Stat(d.path)
	needsInit := os.IsNotExist(statErr)

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening image file %s", d.path)
	}
	d.f = f

	if needsInit {
		buf := make([]byte, d.geo.totalBytes())
		for i := range buf {
			buf[i] = d.geo.ErasedByte
		}
		if _, err := d.f.WriteAt(buf, 0); err != nil {
			return errors.Wrapf(err, "initializing image file %s", d.path)
		}
	}
	return nil
}

func (d *FileDevice) Read(block, page uint16, offset uint32, buf []byte) error {
	if err := checkBounds(d.geo, block, page, offset, len(buf)); err != nil {
		return errors.Wrapf(err, "read %s", fmtAddr(block, page))
	}
	start := int64(pageStart(d.geo, block, page)) + int64(offset)
	if _, err := d.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return errors.Wrapf(err, "reading image file at %s", fmtAddr(block, page))
	}
	return nil
}

func (d *FileDevice) Program(block, page uint16, offset uint32, buf []byte) error {
	if err := checkBounds(d.geo, block, page, offset, len(buf)); err != nil {
		return errors.Wrapf(err, "program %s", fmtAddr(block, page))
	}
	existing := make([]byte, len(buf))
	start := int64(pageStart(d.geo, block, page)) + int64(offset)
	if _, err := d.f.ReadAt(existing, start); err != nil && err != io.EOF {
		return errors.Wrapf(err, "reading before program at %s", fmtAddr(block, page))
	}
	if !isProgrammable(existing, buf, d.geo.ErasedByte) {
		return errors.Wrapf(ErrWouldRequireErase, "program %s", fmtAddr(block, page))
	}
	if _, err := d.f.WriteAt(buf, start); err != nil {
		return errors.Wrapf(err, "writing image file at %s", fmtAddr(block, page))
	}
	return nil
}

func (d *FileDevice) Erase(block uint16) error {
	if block >= d.geo.Blocks {
		return errors.Errorf("erase: block %d out of range", block)
	}
	buf := make([]byte, d.geo.blockBytes())
	for i := range buf {
		buf[i] = d.geo.ErasedByte
	}
	start := int64(block) * int64(d.geo.blockBytes())
	if _, err := d.f.WriteAt(buf, start); err != nil {
		return errors.Wrapf(err, "erasing block %d", block)
	}
	return nil
}

func (d *FileDevice) Delete() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return errors.Wrap(err, "closing image file")
}
