package mem

import (
	"fmt"
	"strings"

	"github.com/winlinos/dwce/go/models"
)

// Page is one mapping. Its contents are stored in ALIGN sized chunks that
// are only allocated once something nonzero is written to them, so large
// reservations cost nothing until used.
type Page struct {
	Addr uint64
	Size uint64
	Prot int
	Desc string

	chunks map[uint64][]byte
}

func (p *Page) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, models.ProtString(p.Prot))
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

// Resident returns how many bytes of the page are backed by memory.
func (p *Page) Resident() uint64 {
	return uint64(len(p.chunks)) * ALIGN
}

func (p *Page) read(addr uint64, b []byte) {
	for len(b) > 0 {
		key := addr &^ (ALIGN - 1)
		o := addr - key
		n := uint64(len(b))
		if n > ALIGN-o {
			n = ALIGN - o
		}
		if chunk, ok := p.chunks[key]; ok {
			copy(b[:n], chunk[o:])
		} else {
			for i := range b[:n] {
				b[i] = 0
			}
		}
		addr, b = addr+n, b[n:]
	}
}

func (p *Page) write(addr uint64, b []byte) {
	for len(b) > 0 {
		key := addr &^ (ALIGN - 1)
		o := addr - key
		n := uint64(len(b))
		if n > ALIGN-o {
			n = ALIGN - o
		}
		chunk, ok := p.chunks[key]
		if !ok && !isZero(b[:n]) {
			if p.chunks == nil {
				p.chunks = make(map[uint64][]byte)
			}
			chunk = make([]byte, ALIGN)
			p.chunks[key] = chunk
		}
		if chunk != nil {
			copy(chunk[o:], b[:n])
		}
		addr, b = addr+n, b[n:]
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// take moves the chunks inside addr:size into dst.
func (p *Page) take(addr, size uint64, dst map[uint64][]byte) {
	for key, chunk := range p.chunks {
		if key >= addr && key-addr < size {
			dst[key] = chunk
		}
	}
}

func (p *Page) slice(addr, size uint64) *Page {
	ret := &Page{Addr: addr, Size: size, Prot: p.Prot, Desc: p.Desc}
	if len(p.chunks) > 0 {
		chunks := make(map[uint64][]byte)
		p.take(addr, size, chunks)
		if len(chunks) > 0 {
			ret.chunks = chunks
		}
	}
	return ret
}

// Split cuts addr:size out of the page. The page itself is narrowed to the
// intersection; whatever remains on either side is returned.
func (p *Page) Split(addr, size uint64) (left, right *Page) {
	start, n, ok := p.Intersect(addr, size)
	if !ok {
		return nil, nil
	}
	if end := p.Addr + p.Size; start+n < end {
		right = p.slice(start+n, end-(start+n))
	}
	if start > p.Addr {
		left = p.slice(p.Addr, start-p.Addr)
	}
	mid := p.slice(start, n)
	*p = *mid
	return left, right
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search to find index of first region containing addr, if any, else -1
func (p Pages) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	i := p.bsearch(addr)
	if i >= 0 {
		return p[i]
	}
	return nil
}

// FindRange returns every page overlapping addr:size, in address order.
func (p Pages) FindRange(addr, size uint64) Pages {
	var ret Pages
	for _, pg := range p {
		if pg.Addr >= addr+size {
			break
		}
		if pg.Overlaps(addr, size) {
			ret = append(ret, pg)
		}
	}
	return ret
}
