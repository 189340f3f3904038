package loader

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

func getMagic(r io.ReaderAt, n int) []byte {
	ret := make([]byte, n)
	if m, _ := r.ReadAt(ret, 0); m < n {
		return ret[:m]
	}
	return ret
}

// image wraps the raw bytes of one file with bounds-checked accessors.
// Every read that would run past the end fails with ErrTruncatedHeader.
type image struct {
	format string
	p      []byte
	order  binary.ByteOrder
}

func newImage(format string, p []byte) *image {
	return &image{format: format, p: p, order: binary.LittleEndian}
}

func (m *image) fail(field string, off uint64, err error) error {
	return errors.WithStack(&models.FormatError{Format: m.format, Field: field, Off: int64(off), Err: err})
}

func (m *image) failf(field string, off uint64, err error, format string, args ...interface{}) error {
	return m.fail(field, off, errors.Wrapf(err, format, args...))
}

func (m *image) need(field string, off, n uint64) error {
	end := off + n
	if end < off || end > uint64(len(m.p)) {
		return m.fail(field, off, models.ErrTruncatedHeader)
	}
	return nil
}

func (m *image) slice(field string, off, n uint64) ([]byte, error) {
	if err := m.need(field, off, n); err != nil {
		return nil, err
	}
	return m.p[off : off+n], nil
}

func (m *image) unpack(field string, off uint64, v interface{}) error {
	size, err := struc.Sizeof(v)
	if err != nil {
		return errors.Wrap(err, "struc.Sizeof() failed")
	}
	b, err := m.slice(field, off, uint64(size))
	if err != nil {
		return err
	}
	return errors.Wrap(struc.UnpackWithOrder(bytes.NewReader(b), v, m.order), "struc.Unpack() failed")
}

func (m *image) u8(field string, off uint64) (uint8, error) {
	b, err := m.slice(field, off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *image) u16(field string, off uint64) (uint16, error) {
	b, err := m.slice(field, off, 2)
	if err != nil {
		return 0, err
	}
	return m.order.Uint16(b), nil
}

func (m *image) u32(field string, off uint64) (uint32, error) {
	b, err := m.slice(field, off, 4)
	if err != nil {
		return 0, err
	}
	return m.order.Uint32(b), nil
}

// cstring reads a NUL-terminated string. A missing terminator ends the
// string at the end of the file.
func (m *image) cstring(field string, off uint64) (string, error) {
	if off >= uint64(len(m.p)) {
		return "", m.fail(field, off, models.ErrTruncatedHeader)
	}
	b := m.p[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
