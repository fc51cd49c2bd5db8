package device

import "testing"

// Erased-to-programmed transitions (1 -> 0) are always programmable;
// any attempt to move a bit back toward the erased polarity is not.
func TestIsProgrammableErasedPolarity(t *testing.T) {
	cases := []struct {
		name string
		old  byte
		new  byte
		want bool
	}{
		{"erased to anything", 0xFF, 0x00, true},
		{"no change", 0xAA, 0xAA, true},
		{"clearing more bits", 0xFF, 0x0F, true},
		{"restoring an erased bit", 0x00, 0xFF, false},
		{"single bit flip back to 1", 0xFE, 0xFF, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := IsProgrammable([]byte{c.old}, []byte{c.new}, 0xFF)
			if got != c.want {
				t.Errorf("IsProgrammable(%#x, %#x, erased=0xFF) = %v, want %v", c.old, c.new, got, c.want)
			}
		})
	}
}

// The symmetric polarity (erased = 0x00) inverts which direction is
// "toward programmed".
func TestIsProgrammableZeroPolarity(t *testing.T) {
	if !IsProgrammable([]byte{0x00}, []byte{0xFF}, 0x00) {
		t.Errorf("programming every bit from the erased-zero polarity should be allowed")
	}
	if IsProgrammable([]byte{0xFF}, []byte{0x00}, 0x00) {
		t.Errorf("restoring bits to the erased-zero polarity should not be programmable")
	}
}

func TestMemoryInitIsIdempotent(t *testing.T) {
	geo := Geometry{Blocks: 2, PagesPerBlock: 2, PageBytes: 16, ErasedByte: 0xFF}
	m, err := NewMemory(geo)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	if err := m.Program(0, 0, 0, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := m.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	buf := make([]byte, 2)
	if err := m.Read(0, 0, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0x01 || buf[1] != 0x02 {
		t.Fatalf("a second Init wiped previously programmed bytes: got %v", buf)
	}
}

func TestMemoryProgramRequiresBitCompatibility(t *testing.T) {
	geo := Geometry{Blocks: 1, PagesPerBlock: 1, PageBytes: 4, ErasedByte: 0xFF}
	m, err := NewMemory(geo)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	if err := m.Program(0, 0, 0, []byte{0x0F, 0x0F, 0x0F, 0x0F}); err != nil {
		t.Fatalf("first program: %v", err)
	}
	if err := m.Program(0, 0, 0, []byte{0xFF, 0xFF, 0xFF, 0xFF}); err == nil {
		t.Fatalf("re-programming bits back toward erased should fail without an Erase")
	}
	if err := m.Erase(0); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := m.Program(0, 0, 0, []byte{0xFF, 0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("programming after Erase should succeed: %v", err)
	}
}
