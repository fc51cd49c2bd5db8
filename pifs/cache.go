package pifs

import (
	"github.com/pkg/errors"

	"pifs/device"
)

// pageCache is the one-slot write-back logical-page cache (spec §4.2):
// it holds at most one logical page plus its address and a dirty flag,
// and is the sole place that splits a logical page into however many
// physical flash pages back it. Grounded on original_source/Src/pifs.c's
// pifs_read/pifs_write/pifs_flush.
type pageCache struct {
	dev   device.Device
	geo   Geometry
	addr  Address
	buf   []byte
	dirty bool
	valid bool
}

func newPageCache(dev device.Device, geo Geometry) *pageCache {
	return &pageCache{
		dev: dev,
		geo: geo,
		buf: make([]byte, geo.LogicalPageBytes),
	}
}

func (c *pageCache) flash(addr Address) (block uint16, flashPage uint16) {
	return addr.Block, addr.Page * c.geo.FlashPagesPerLogicalPage()
}

// flush writes the dirty cached page back to the device, one flash
// page at a time.
func (c *pageCache) flush() error {
	if !c.valid || !c.dirty {
		return nil
	}
	block, firstFlashPage := c.flash(c.addr)
	perLogical := c.geo.FlashPagesPerLogicalPage()
	for i := uint16(0); i < perLogical; i++ {
		off := uint32(i) * c.geo.FlashPageBytes
		chunk := c.buf[off : off+c.geo.FlashPageBytes]
		if err := c.dev.Program(block, firstFlashPage+i, 0, chunk); err != nil {
			return errors.Wrapf(err, "flushing cache page %s", c.addr)
		}
	}
	c.dirty = false
	return nil
}

// load brings addr's logical page into the cache, flushing first if
// another page is dirty.
func (c *pageCache) load(addr Address) error {
	if c.valid && c.addr == addr {
		return nil
	}
	if err := c.flush(); err != nil {
		return err
	}
	block, firstFlashPage := c.flash(addr)
	perLogical := c.geo.FlashPagesPerLogicalPage()
	for i := uint16(0); i < perLogical; i++ {
		off := uint32(i) * c.geo.FlashPageBytes
		chunk := c.buf[off : off+c.geo.FlashPageBytes]
		if err := c.dev.Read(block, firstFlashPage+i, 0, chunk); err != nil {
			return errors.Wrapf(err, "loading cache page %s", addr)
		}
	}
	c.addr = addr
	c.valid = true
	return nil
}

// Read copies length bytes at offset within addr's logical page into out.
func (c *pageCache) Read(addr Address, offset uint32, out []byte) error {
	if err := c.load(addr); err != nil {
		return err
	}
	copy(out, c.buf[offset:offset+uint32(len(out))])
	return nil
}

// Write copies data into offset within addr's logical page and marks
// the cache dirty; it does not hit the device until flush (on the next
// cache miss, or an explicit Flush call).
func (c *pageCache) Write(addr Address, offset uint32, data []byte) error {
	if err := c.load(addr); err != nil {
		return err
	}
	copy(c.buf[offset:offset+uint32(len(data))], data)
	c.dirty = true
	return nil
}

// WriteFull overwrites addr's whole logical page without first reading
// it — used when programming a freshly-allocated (erased) page, to
// avoid an unnecessary read-modify-write.
func (c *pageCache) WriteFull(addr Address, data []byte) error {
	if c.valid && c.addr != addr {
		if err := c.flush(); err != nil {
			return err
		}
	}
	copy(c.buf, data)
	c.addr = addr
	c.valid = true
	c.dirty = true
	return nil
}

// Invalidate drops the cached page without flushing — used when the
// block backing it has just been erased (spec §4.2).
func (c *pageCache) invalidate(block uint16) {
	if c.valid && c.addr.Block == block {
		c.valid = false
		c.dirty = false
	}
}
