package mem

import (
	"bytes"
	"testing"
)

func page_eq(a Pages, b Pages) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPageFind(t *testing.T) {
	mem := Pages{
		&Page{Addr: 0x1000, Size: 0x1000},
		&Page{Addr: 0x2000, Size: 0x1000},
		&Page{Addr: 0x4000, Size: 0x2000},
		&Page{Addr: 0x6000, Size: 0x2000},
	}
	if mem.Find(0x1000) != mem[0] ||
		mem.Find(0x1001) != mem[0] ||
		mem.Find(0x1fff) != mem[0] {
		t.Error("Find() failed")
	}
	if mem.Find(0x3000) != nil ||
		mem.Find(0x1) != nil ||
		mem.Find(0x10000) != nil {
		t.Error("Find() negative failed")
	}
	if !page_eq(mem.FindRange(0x0, 0x10000), mem) ||
		!page_eq(mem.FindRange(0x0, 0x1000), nil) ||
		!page_eq(mem.FindRange(0x1000, 0x1000), mem[:1]) ||
		!page_eq(mem.FindRange(0x1000, 0x2000), mem[:2]) ||
		!page_eq(mem.FindRange(0x2000, 0x2000), mem[1:2]) ||
		!page_eq(mem.FindRange(0x2000, 0x4000), mem[1:3]) ||
		!page_eq(mem.FindRange(0x2000, 0x10000), mem[1:]) {
		t.Error("FindRange() failed")
	}
}

func TestPageSplit(t *testing.T) {
	p := &Page{Addr: 0x1000, Size: 0x3000}
	p.write(0x2000, []byte{0xaa})
	p.write(0x3000, []byte{0xbb})
	left, right := p.Split(0x2000, 0x1000)
	if left == nil || left.Addr != 0x1000 || left.Size != 0x1000 || left.Resident() != 0 {
		t.Fatalf("bad left split: %v", left)
	}
	if right == nil || right.Addr != 0x3000 || right.Size != 0x1000 || right.Resident() != 0x1000 {
		t.Fatalf("bad right split: %v", right)
	}
	if p.Addr != 0x2000 || p.Size != 0x1000 || p.Resident() != 0x1000 {
		t.Fatalf("bad middle: %v", p)
	}
	b := make([]byte, 2)
	p.read(0x2000, b)
	if b[0] != 0xaa || b[1] != 0 {
		t.Fatal("middle lost its data")
	}
}

func TestPageSparse(t *testing.T) {
	p := &Page{Addr: 0x1000, Size: 0x4000}
	p.write(0x1ffe, make([]byte, 0x10))
	if p.Resident() != 0 {
		t.Fatal("zero write allocated memory")
	}
	p.write(0x1ffe, []byte{1, 2, 3, 4})
	if p.Resident() != 0x2000 {
		t.Fatalf("expected two chunks, got %#x bytes", p.Resident())
	}
	b := make([]byte, 6)
	for i := range b {
		b[i] = 0xff
	}
	p.read(0x1ffd, b)
	if !bytes.Equal(b, []byte{0, 1, 2, 3, 4, 0}) {
		t.Fatalf("bad read: %x", b)
	}
}
