package loader

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

// largest zero buffer written at once while filling a segment tail
const zeroChunk = 0x10000

// MapImage maps every load segment of img into m, copying FileSize bytes
// from the file and zeroing the rest up to MemSize.
func MapImage(m models.Mapper, img *models.LoadedImage, p []byte) error {
	for i, seg := range img.LoadSegments() {
		if seg.MemSize == 0 {
			continue
		}
		desc := seg.Name
		if desc == "" {
			desc = fmt.Sprintf("segment %d", i)
		}
		if err := m.Map(seg.Addr, seg.MemSize, seg.Prot, desc); err != nil {
			return errors.Wrapf(err, "mapping %s", seg.String())
		}
		if seg.FileSize > 0 {
			end := seg.Off + seg.FileSize
			if end < seg.Off || end > uint64(len(p)) {
				return errors.Wrapf(models.ErrBadSegment, "%s: file data past end of image", desc)
			}
			if err := m.Write(seg.Addr, p[seg.Off:end]); err != nil {
				return errors.Wrapf(err, "writing %s", desc)
			}
		}
		if err := zeroFill(m, seg.Addr+seg.FileSize, seg.MemSize-seg.FileSize); err != nil {
			return errors.Wrapf(err, "zeroing %s", desc)
		}
	}
	return nil
}

func zeroFill(m models.Mapper, addr, size uint64) error {
	if size == 0 {
		return nil
	}
	n := size
	if n > zeroChunk {
		n = zeroChunk
	}
	zero := make([]byte, n)
	for size > 0 {
		if size < n {
			zero = zero[:size]
		}
		if err := m.Write(addr, zero); err != nil {
			return err
		}
		addr += uint64(len(zero))
		size -= uint64(len(zero))
	}
	return nil
}
