// Package txdb builds the transaction database (T-DB): the second half of
// the PIR lookup, a length-prefixed, block-packed stream of every
// transaction's raw bytes in insertion order.
package txdb

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/clambassador/btpir/engine"
	"github.com/clambassador/btpir/model"
	"github.com/clambassador/btpir/pirerr"
)

// headerLen is the width of the 4-byte "bytes remaining" field that opens
// every block; it is written by the WriteFooter hook (the footer of the
// block being closed doubles as the header of the one that follows), while
// footer_len itself stays 0.
const headerLen = model.LengthPrefixSize

// noAddr is written to the manifest in place of a real address: a
// transaction can reference any number of addresses, so there is no single
// address to attribute a T-DB block boundary to. The original source
// attributed it to the raw transaction bytes, which isn't a valid address at
// all; we use an explicit, documented placeholder instead.
//
// This intentionally diverges from the original's manifest, which leaves
// the _cur_addr field blank for a T-DB line rather than writing any bytes.
// Every manifest line written after the first transaction starts is these
// model.ShortAddressLen zero bytes; only the first line, written by
// engine.Open before any transaction, is empty.
var noAddr = make([]byte, model.ShortAddressLen)

func writeFooter(w *engine.BlockWriter, remaining uint32) error {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(buf, remaining)
	return w.WriteRaw(buf)
}

func startTx(w *engine.BlockWriter, addr []byte, length uint32) error {
	w.ClearBlocksUsed()
	if err := w.PadToHeaderBoundary(); err != nil {
		return err
	}
	w.SetCurAddr(addr)
	return nil
}

func format() engine.Format {
	return engine.Format{
		HeaderLen:       headerLen,
		FooterLen:       0,
		TrackBlocksUsed: true,
		WriteHeader:     engine.NoopHeader,
		WriteFooter:     writeFooter,
		OnStartTx:       startTx,
		OnEndTx:         engine.NoopEndTx,
		OnClose:         engine.DefaultOnClose,
	}
}

// TransactionDB packs a sequence of opaque transaction payloads, each
// preceded by its 4-byte little-endian length, into fixed-size blocks.
type TransactionDB struct {
	bw *engine.BlockWriter
}

// New opens a transaction database writer at dir/prefix with the given
// block size.
func New(dir, prefix string, blockSize uint64) (*TransactionDB, error) {
	bw, err := engine.Open(dir, prefix, blockSize, format())
	if err != nil {
		return nil, pirerr.Wrap(err, "open transaction db")
	}
	return &TransactionDB{bw: bw}, nil
}

// BuildWithPositionMap packs every transaction in txs, in order, and returns
// the set of block indices each one touched, keyed by its 0-based ordinal
// position in txs. This is the renamed equivalent of the original's
// "process_entries": distinct from the per-address record loop in
// addrindex, which shares none of this method's position-tracking.
func (db *TransactionDB) BuildWithPositionMap(txs [][]byte) (map[uint32]*roaring.Bitmap, uint64, error) {
	positionMap := make(map[uint32]*roaring.Bitmap, len(txs))
	lenBuf := make([]byte, model.LengthPrefixSize)
	for pos, tx := range txs {
		if err := db.bw.StartTx(noAddr, uint32(len(tx))); err != nil {
			return nil, 0, pirerr.Wrap(err, "start transaction record")
		}
		model.PutLengthPrefix(lenBuf, tx)
		if err := db.bw.Write(lenBuf); err != nil {
			return nil, 0, pirerr.Wrap(err, "write transaction length")
		}
		if err := db.bw.Write(tx); err != nil {
			return nil, 0, pirerr.Wrap(err, "write transaction payload")
		}
		db.bw.EndTx(noAddr, uint32(len(tx)))
		positionMap[uint32(pos)] = db.bw.BlocksUsed().Clone()
	}
	blocks, err := db.bw.Close()
	if err != nil {
		return nil, 0, pirerr.Wrap(err, "close transaction db")
	}
	return positionMap, blocks, nil
}
