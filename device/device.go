// Package device abstracts the raw NOR flash: read/program/erase at
// (block, page, offset), with no caching of its own. Everything above
// this package treats it as the only place bytes actually move.
package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrWouldRequireErase is returned by Program when the requested bit
// transitions cannot be achieved without erasing the block first.
var ErrWouldRequireErase = errors.New("program would require an erase")

// Device is the contract every storage engine component relies on.
// Implementations are synchronous: a call blocks the caller until the
// underlying medium has completed the operation.
type Device interface {
	// Init prepares the device for use (e.g. opens a backing file).
	Init() error
	// Read copies len(buf) bytes starting at offset within the page.
	Read(block, page uint16, offset uint32, buf []byte) error
	// Program writes buf at offset within the page. It must fail with
	// ErrWouldRequireErase if any byte would need a bit to flip back
	// toward the erased polarity.
	Program(block, page uint16, offset uint32, buf []byte) error
	// Erase resets an entire block to the erased polarity.
	Erase(block uint16) error
	// Delete releases any resources held by the device.
	Delete() error
}

// Geometry describes the physical layout a Device exposes. It is
// distinct from pifs.Geometry, which additionally describes the
// logical-page allocation unit built on top of this physical shape.
type Geometry struct {
	Blocks        uint16
	PagesPerBlock uint16
	PageBytes     uint32
	ErasedByte    byte
}

func (g Geometry) blockBytes() uint32 {
	return uint32(g.PagesPerBlock) * g.PageBytes
}

func (g Geometry) totalBytes() int {
	return int(g.Blocks) * int(g.blockBytes())
}

func (g Geometry) validate() error {
	if g.Blocks == 0 || g.PagesPerBlock == 0 || g.PageBytes == 0 {
		return errors.New("device geometry fields must be non-zero")
	}
	return nil
}

// IsProgrammable reports whether new can be written over old without an
// erase: every differing bit must move toward the programmed polarity.
func IsProgrammable(old, new []byte, erasedByte byte) bool {
	return isProgrammable(old, new, erasedByte)
}

func isProgrammable(old, new []byte, erasedByte byte) bool {
	for i := range new {
		// Bit-compatible iff every bit that differs moves toward the
		// programmed polarity, i.e. (old XOR new) AND new == 0 when
		// erasedByte == 0xFF; the symmetric test holds for the other
		// polarity since "programmed" is simply "not erasedByte".
		if erasedByte == 0xFF {
			if (old[i]^new[i])&new[i] != 0 {
				return false
			}
		} else {
			if (old[i]^new[i])&^new[i] != 0 {
				return false
			}
		}
	}
	return true
}

func checkBounds(g Geometry, block, page uint16, offset uint32, n int) error {
	if block >= g.Blocks {
		return errors.Errorf("block %d out of range (max %d)", block, g.Blocks-1)
	}
	if page >= g.PagesPerBlock {
		return errors.Errorf("page %d out of range (max %d)", page, g.PagesPerBlock-1)
	}
	if offset+uint32(n) > g.PageBytes {
		return errors.Errorf("offset %d + len %d exceeds page size %d", offset, n, g.PageBytes)
	}
	return nil
}

func pageStart(g Geometry, block, page uint16) int {
	return int(block)*int(g.blockBytes()) + int(page)*int(g.PageBytes)
}

func fmtAddr(block, page uint16) string {
	return fmt.Sprintf("(block=%d,page=%d)", block, page)
}
