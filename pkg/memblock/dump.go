package memblock

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

var dumpPool bytebufferpool.Pool

// Dump writes a one-line summary followed by a canonical hex dump of the
// usable region to w, in a single Write.
func (b *Block) Dump(w io.Writer) error {
	if b.backing == nil {
		return ErrReleased
	}
	buf := dumpPool.Get()
	defer dumpPool.Put(buf)

	if _, err := fmt.Fprintf(buf, "%s\n", b); err != nil {
		return err
	}
	d := hex.Dumper(buf)
	if _, err := d.Write(b.usable()); err != nil {
		return err
	}
	if err := d.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.B)
	return err
}
