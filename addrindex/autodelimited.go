package addrindex

import (
	"github.com/clambassador/btpir/engine"
	"github.com/clambassador/btpir/pirerr"
)

// BuildAutoDelimited writes the A1 index: every record has identical length
// (address + a fixed-width bitmap), so the block size equals the record
// length and each block holds exactly one record — no header or footer
// bytes are needed, and no record ever spans a boundary. Close writes one
// trailing all-zero block so the manifest carries a final line for the
// last address, mirroring the original's write_closing_footer.
func BuildAutoDelimited(dir, prefix string, records []Record) (blockCount, blockSize uint64, err error) {
	if len(records) == 0 {
		return 0, 0, pirerr.GeometryError("build A1", "no records to index")
	}
	recLen := uint64(len(records[0].Payload))
	if recLen == 0 {
		return 0, 0, pirerr.GeometryError("build A1", "zero-length record")
	}
	for _, r := range records {
		if uint64(len(r.Payload)) != recLen {
			return 0, 0, pirerr.InputError("build A1", "records must share one fixed length, got %d and %d", recLen, len(r.Payload))
		}
	}

	format := engine.Format{
		HeaderLen:   0,
		FooterLen:   0,
		WriteHeader: engine.NoopHeader,
		WriteFooter: engine.NoopFooter,
		OnStartTx:   engine.NoopStartTx,
		OnEndTx: func(w *engine.BlockWriter, addr []byte, length uint32) {
			w.SetCurAddr(addr)
		},
		OnClose: func(w *engine.BlockWriter) error {
			if err := w.NewBlock(0); err != nil {
				return err
			}
			return w.WriteZeros(w.SafeLen())
		},
	}

	bw, err := engine.Open(dir, prefix, recLen, format)
	if err != nil {
		return 0, 0, pirerr.Wrap(err, "open A1")
	}
	for _, r := range records {
		if err := bw.StartTx(r.Address, uint32(len(r.Payload))); err != nil {
			return 0, 0, pirerr.Wrap(err, "start A1 record")
		}
		if err := bw.Write(r.Payload); err != nil {
			return 0, 0, pirerr.Wrap(err, "write A1 record")
		}
		bw.EndTx(r.Address, uint32(len(r.Payload)))
	}
	blocks, err := bw.Close()
	if err != nil {
		return 0, 0, pirerr.Wrap(err, "close A1")
	}
	return blocks, recLen, nil
}

// BitmapByteLen returns the number of bytes needed to pack pirBlocks bits,
// one per block, MSB-first.
func BitmapByteLen(pirBlocks uint64) uint64 {
	return (pirBlocks + 7) / 8
}

// PackBitmap renders the MSB-first bitmap for blocks present in set, sized
// to hold pirBlocks bits. Bit b (0-indexed, 0 = first block) lands at byte
// b/8, position 7-(b%8) of that byte. This is a straightforward, exact
// packing rather than a byte-for-byte port of the original C++, whose
// per-bit shift-after-set pushes the first block of every byte out through
// the top bit (uint8 overflow), leaves the lowest bit always zero, and
// stores every other block one bit position above where an MSB-first reader
// looks for it — an off-by-one bug that would make the "bit b set iff block
// b used" round-trip invariant false for every block. See DESIGN.md.
func PackBitmap(blocks Uint32Set, pirBlocks uint64) []byte {
	buf := make([]byte, BitmapByteLen(pirBlocks))
	for _, b := range blocks {
		if uint64(b) >= pirBlocks {
			continue
		}
		byteIdx := b / 8
		bitIdx := 7 - (b % 8)
		buf[byteIdx] |= 1 << bitIdx
	}
	return buf
}

// Uint32Set is a plain slice of block indices, used only at the call site
// that renders a bitmap from a roaring.Bitmap's ToArray().
type Uint32Set []uint32

// EncodeBitmapRecord renders an A1 payload: address followed by its
// fixed-width bitmap.
func EncodeBitmapRecord(address []byte, blocks Uint32Set, pirBlocks uint64) []byte {
	out := make([]byte, 0, len(address)+int(BitmapByteLen(pirBlocks)))
	out = append(out, address...)
	out = append(out, PackBitmap(blocks, pirBlocks)...)
	return out
}
