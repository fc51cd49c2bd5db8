package pifs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BlockAddress and PageAddress index a physical block and a logical
// page within it.
type BlockAddress = uint16
type PageAddress = uint16

const (
	// AddrSentinel is the erased-polarity sentinel: an address whose
	// block and page both read as all-ones has never been written.
	AddrSentinel BlockAddress = 0xFFFF
	// AddrInvalid is the "all-ones-minus-one" invalid sentinel, used
	// for addresses that are deliberately not-yet-assigned in RAM.
	AddrInvalid BlockAddress = 0xFFFE
)

// Address addresses one logical page (spec §3 "Address").
type Address struct {
	Block BlockAddress
	Page  PageAddress
}

var erasedAddress = Address{Block: AddrSentinel, Page: AddrSentinel}
var invalidAddress = Address{Block: AddrInvalid, Page: AddrInvalid}

// IsErased reports whether a is the erased-sentinel address.
func (a Address) IsErased() bool { return a == erasedAddress }

// IsInvalid reports whether a is the invalid-sentinel address.
func (a Address) IsInvalid() bool { return a == invalidAddress }

// IsValid reports whether a names a real, assigned page.
func (a Address) IsValid() bool { return !a.IsErased() && !a.IsInvalid() }

func (a Address) String() string {
	return fmt.Sprintf("(block=%d,page=%d)", a.Block, a.Page)
}

// Attribute bits (spec §3 "Entry"). Stored inverted on media so that,
// under the all-ones erased polarity, "not yet set" matches the
// erased byte (spec §3 "Erased vs programmed polarity"); entryRecord's
// (de)serialization performs that inversion, callers always see the
// un-inverted, intuitive sense (set bit == attribute present).
const (
	AttribReadOnly byte = 1 << iota
	AttribHidden
	AttribSystem
	AttribDir
	AttribArchive
	AttribDeleted
)

// UserData is the optional per-file metadata blob (spec §9
// "Supplemented features", gated by Config.EnableUserData).
type UserData struct {
	CTime uint32
	CDate uint32
}

// Entry is the in-RAM form of one directory record (spec §3 "Entry").
type Entry struct {
	Name            string
	Attrib          byte
	UserData        UserData
	FirstMapAddress Address
	FileSize        uint32
	// RefCount is the number of additional names sharing FirstMapAddress's
	// map chain, beyond this one (spec §9 "Supplemented features", hard
	// link): 0 means this is the only name for the file.
	RefCount byte
}

// IsDeleted reports the DELETED attribute bit.
func (e Entry) IsDeleted() bool { return e.Attrib&AttribDeleted != 0 }

// IsDir reports the DIR attribute bit.
func (e Entry) IsDir() bool { return e.Attrib&AttribDir != 0 }

// entryRecord is the fixed-size on-media layout of one Entry, encoded
// with encoding/binary the way the teacher decodes AMSDOS directory
// records in amstrad/dsk/amsdos.go.
type entryRecord struct {
	Name          [MaxFilenameLen]byte
	Attrib        byte
	RefCount      byte
	_             [2]byte
	CTime         uint32
	CDate         uint32
	FirstMapBlock uint16
	FirstMapPage  uint16
	FileSize      uint32
}

func entryRecordSize() int {
	return binary.Size(entryRecord{})
}

// erasedFillName is what an erased entryRecord's Name field decodes to.
func isNameErased(name [MaxFilenameLen]byte, erasedByte byte) bool {
	for _, b := range name {
		if b != erasedByte {
			return false
		}
	}
	return true
}

func entryToRecord(e Entry) entryRecord {
	var rec entryRecord
	copy(rec.Name[:], e.Name)
	rec.Attrib = ^e.Attrib
	rec.RefCount = e.RefCount
	rec.CTime = e.UserData.CTime
	rec.CDate = e.UserData.CDate
	rec.FirstMapBlock = e.FirstMapAddress.Block
	rec.FirstMapPage = e.FirstMapAddress.Page
	rec.FileSize = e.FileSize
	return rec
}

func recordToEntry(rec entryRecord) Entry {
	name := bytes.TrimRight(rec.Name[:], "\x00")
	return Entry{
		Name:   string(name),
		Attrib: ^rec.Attrib,
		UserData: UserData{
			CTime: rec.CTime,
			CDate: rec.CDate,
		},
		FirstMapAddress: Address{Block: rec.FirstMapBlock, Page: rec.FirstMapPage},
		FileSize:        rec.FileSize,
		RefCount:        rec.RefCount,
	}
}

func encodeEntry(e Entry) []byte {
	buf := new(bytes.Buffer)
	rec := entryToRecord(e)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	return buf.Bytes()
}

func decodeEntry(b []byte) (Entry, error) {
	var rec entryRecord
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &rec); err != nil {
		return Entry{}, err
	}
	return recordToEntry(rec), nil
}

// mapEntry is one (page-run address, page-run count) pair inside a
// map page (spec §3 "Map page").
type mapEntry struct {
	Address   Address
	PageCount uint32
}

// mapHeader carries the doubly-linked chain pointers for one map page
// (spec §3 "Map page").
type mapHeader struct {
	PrevMapAddress Address
	NextMapAddress Address
}

type mapHeaderRecord struct {
	PrevBlock uint16
	PrevPage  uint16
	NextBlock uint16
	NextPage  uint16
}

type mapEntryRecord struct {
	Block     uint16
	Page      uint16
	PageCount uint32
}

func mapEntriesPerPage(logicalPageBytes uint32) int {
	headerSize := binary.Size(mapHeaderRecord{})
	entrySize := binary.Size(mapEntryRecord{})
	return (int(logicalPageBytes) - headerSize) / entrySize
}

// deltaRecord is one (orig addr) -> (delta addr) mapping (spec §3
// "Delta entry").
type deltaRecord struct {
	OrigAddress  Address
	DeltaAddress Address
}

type deltaEntryRecord struct {
	OrigBlock  uint16
	OrigPage   uint16
	DeltaBlock uint16
	DeltaPage  uint16
}

func deltaEntriesPerPage(logicalPageBytes uint32) int {
	entrySize := binary.Size(deltaEntryRecord{})
	return int(logicalPageBytes) / entrySize
}

// wearLevelEntry is the per-block erase-count record (spec §3
// "Wear-level entry"): the effective count is Cntr plus the popcount
// of Bits' programmed (non-erased) bits.
type wearLevelEntry struct {
	Cntr uint16
	Bits uint8
}

func popcount8(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}
