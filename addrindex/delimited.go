package addrindex

import (
	"encoding/binary"
	"math"

	"github.com/clambassador/btpir/engine"
	"github.com/clambassador/btpir/pirerr"
)

// DelimitedBlockSize computes A2's block size from the total number of
// payload bytes that will be written: block_size_bits = 16 + floor(sqrt(8N +
// 256)), rounded down to whole bytes. Unlike the √N geometry formula used
// for the transaction database, this one adds 256 under the square root and
// a constant 16 bits after it, giving delimited
// records a little more headroom per block since each one also carries a
// possible inline address.
func DelimitedBlockSize(totalPayloadBytes uint64) uint64 {
	bits := 16 + uint64(math.Sqrt(float64(8*totalPayloadBytes+256)))
	return bits / 8
}

// BuildDelimited writes the A2 index: one variable-width record per address
// (address + block count + block ids), framed with a 4-byte "remaining"
// header at the start of every block. A record spanning a block boundary
// continues without re-stating its address; but if a fresh block opens with
// no record boundary falling inside it (remaining bytes owed exceed what's
// left after the header and one address), the in-flight address is inlined
// right after the header so a reader landing on that block can still
// identify whose record it's reading. The block size is not checked against
// the address length: when a block is too small to hold the header plus one
// address, no address is inlined in any block.
func BuildDelimited(dir, prefix string, records []Record) (blockCount, blockSize uint64, err error) {
	if len(records) == 0 {
		return 0, 0, pirerr.GeometryError("build A2", "no records to index")
	}
	addrLen := len(records[0].Address)
	var total uint64
	for _, r := range records {
		if len(r.Address) != addrLen {
			return 0, 0, pirerr.InputError("build A2", "addresses must share one fixed length, got %d and %d", addrLen, len(r.Address))
		}
		total += uint64(len(r.Payload))
	}

	const headerLen = 4
	blockSize = DelimitedBlockSize(total)
	if blockSize <= uint64(headerLen) {
		return 0, 0, pirerr.GeometryError("build A2", "computed block size %d too small for a %d-byte header", blockSize, headerLen)
	}

	usable := int64(blockSize) - headerLen - int64(addrLen)

	writeHeader := func(w *engine.BlockWriter, remaining uint32) error {
		buf := make([]byte, headerLen)
		binary.LittleEndian.PutUint32(buf, remaining)
		if err := w.WriteRaw(buf); err != nil {
			return err
		}
		if usable > 0 && int64(remaining) > usable {
			if err := w.WriteRaw(w.CurAddr()); err != nil {
				return err
			}
			w.AdvanceExtra(uint64(addrLen))
		}
		return nil
	}

	format := engine.Format{
		HeaderLen:   headerLen,
		FooterLen:   0,
		WriteHeader: writeHeader,
		WriteFooter: engine.NoopFooter,
		OnStartTx: func(w *engine.BlockWriter, addr []byte, length uint32) error {
			// Pad and roll to a new block, if needed, before updating
			// cur_addr: a manifest line written by that roll must still
			// name the address whose writes just completed, not the one
			// about to start.
			if err := w.PadToHeaderBoundary(); err != nil {
				return err
			}
			w.SetCurAddr(addr)
			return nil
		},
		OnEndTx: engine.NoopEndTx,
		OnClose: engine.DefaultOnClose,
	}

	bw, err := engine.Open(dir, prefix, blockSize, format)
	if err != nil {
		return 0, 0, pirerr.Wrap(err, "open A2")
	}
	for _, r := range records {
		if err := bw.StartTx(r.Address, uint32(len(r.Payload))); err != nil {
			return 0, 0, pirerr.Wrap(err, "start A2 record")
		}
		if err := bw.Write(r.Payload); err != nil {
			return 0, 0, pirerr.Wrap(err, "write A2 record")
		}
		bw.EndTx(r.Address, uint32(len(r.Payload)))
	}
	blocks, err := bw.Close()
	if err != nil {
		return 0, 0, pirerr.Wrap(err, "close A2")
	}
	return blocks, blockSize, nil
}

// EncodeBlockList renders an A2 payload: address, a 4-byte little-endian
// block count, then each block id as a raw 4-byte little-endian value in
// the order given (Processor.Build passes them ascending).
func EncodeBlockList(address []byte, blocks []uint32) []byte {
	out := make([]byte, 0, len(address)+4+4*len(blocks))
	out = append(out, address...)
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(blocks)))
	out = append(out, countBuf...)
	idBuf := make([]byte, 4)
	for _, b := range blocks {
		binary.LittleEndian.PutUint32(idBuf, b)
		out = append(out, idBuf...)
	}
	return out
}
