// Package engine implements the block-packing machinery shared by all three
// on-disk formats (T-DB, A1, A2): a cursor that packs variable-length
// payloads into fixed-size blocks, splitting a payload across a block
// boundary when it doesn't fit, and committing the finished file with an
// atomic rename. The concrete formats (txdb, addrindex) each supply a small
// set of hooks — header/footer writers and start/end-of-record callbacks —
// that give the shared engine its format-specific byte layout, the way the
// teacher's WAL block writer is parameterized by a fragment-type byte rather
// than having three near-duplicate writers.
package engine

import (
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/clambassador/btpir/pirerr"
)

// WriteHeaderFunc writes the header of a freshly opened block. remaining is
// the number of payload bytes still owed to the record that triggered the
// new block (0 if no record is in flight). Implementations write directly
// via w.WriteRaw; the engine has already credited header_len bytes to the
// block's accounting before calling this hook.
type WriteHeaderFunc func(w *BlockWriter, remaining uint32) error

// WriteFooterFunc writes the footer of the block being closed out. In one of
// the three concrete formats this is where the *next* block's header bytes
// are actually written to disk (see txdb), even though header_len() and
// footer_len() stay decoupled from which hook performs the write.
type WriteFooterFunc func(w *BlockWriter, remaining uint32) error

// StartTxFunc runs when a new record begins.
type StartTxFunc func(w *BlockWriter, addr []byte, length uint32) error

// EndTxFunc runs when a record finishes.
type EndTxFunc func(w *BlockWriter, addr []byte, length uint32)

// CloseFunc runs once, after the final block has been zero-padded, before
// the manifest's closing line is appended and the files are renamed into
// their final, block-count-bearing names.
type CloseFunc func(w *BlockWriter) error

// Format is the capability set a concrete on-disk layout supplies to the
// shared engine.
type Format struct {
	HeaderLen int
	FooterLen int

	WriteHeader WriteHeaderFunc
	WriteFooter WriteFooterFunc
	OnStartTx   StartTxFunc
	OnEndTx     EndTxFunc
	OnClose     CloseFunc

	// TrackBlocksUsed records, in BlocksUsed(), every block index touched
	// by the record currently in flight. Only the transaction database
	// needs this (to build its position→blocks map); the address indices
	// leave it off.
	TrackBlocksUsed bool
}

// NoopHeader and NoopFooter are Format hooks for layouts with no header or
// footer bytes of their own (AutoDelimitedDB).
func NoopHeader(*BlockWriter, uint32) error { return nil }
func NoopFooter(*BlockWriter, uint32) error { return nil }

// NoopStartTx and NoopEndTx are Format hooks for layouts that don't react to
// record boundaries.
func NoopStartTx(*BlockWriter, []byte, uint32) error { return nil }
func NoopEndTx(*BlockWriter, []byte, uint32)         {}

// DefaultOnClose performs no extra work beyond the generic close sequence;
// used by formats whose footer_len is 0 and which need no trailing sentinel
// block (TransactionDB, DelimitedDB).
func DefaultOnClose(*BlockWriter) error { return nil }

// BlockWriter is the shared packing cursor. One is opened per output file
// pair (data file + manifest); Open creates both under provisional names and
// Close renames them to their final, block-count-bearing names.
type BlockWriter struct {
	format Format

	dataFile     *os.File
	manifestFile *os.File

	dir, prefix string
	blockSize   uint64

	curDistance uint64
	curBlock    uint64
	totalSize   uint64
	blocks      uint64

	curAddr    []byte
	blocksUsed *roaring.Bitmap

	closed bool
}

func provisionalDataPath(dir, prefix string, blockSize uint64) string {
	return filepath.Join(dir, prefixedName(prefix, blockSize))
}

func prefixedName(prefix string, blockSize uint64) string {
	return prefix + "_" + itoa(blockSize) + ".pir"
}

func finalName(prefix string, blocks, blockSize uint64) string {
	return prefix + "_" + itoa(blocks) + "_" + itoa(blockSize) + ".pir"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Open creates a new block-writer for a file pair under dir, named
// "<prefix>_<blockSize>.pir" and "<prefix>_<blockSize>.pir.manifest",
// writes a header_len-byte zero-filled opening header, and positions the
// cursor to accept StartTx/Write/EndTx calls.
func Open(dir, prefix string, blockSize uint64, format Format) (*BlockWriter, error) {
	if blockSize == 0 {
		return nil, pirerr.GeometryError("open", "block size must be positive")
	}
	usable := int64(blockSize) - int64(format.HeaderLen) - int64(format.FooterLen)
	if usable <= 0 {
		return nil, pirerr.GeometryError("open", "block size %d too small for header_len=%d footer_len=%d", blockSize, format.HeaderLen, format.FooterLen)
	}

	dataPath := provisionalDataPath(dir, prefix, blockSize)
	manifestPath := dataPath + ".manifest"

	df, err := os.Create(dataPath)
	if err != nil {
		return nil, pirerr.IoError("open data file", err)
	}
	mf, err := os.Create(manifestPath)
	if err != nil {
		df.Close()
		return nil, pirerr.IoError("open manifest file", err)
	}

	w := &BlockWriter{
		format:       format,
		dataFile:     df,
		manifestFile: mf,
		dir:          dir,
		prefix:       prefix,
		blockSize:    blockSize,
		blocksUsed:   roaring.New(),
	}

	if err := w.writeZerosRaw(uint64(format.HeaderLen)); err != nil {
		return nil, err
	}
	w.curDistance = uint64(format.HeaderLen)
	w.totalSize = uint64(format.HeaderLen)

	// Seed the manifest with one line for the block this open just
	// started (no address in flight yet). Together with one line per
	// subsequent block transition and one final line at close, this
	// gives exactly block_count+1 lines, matching the manifest-length
	// invariant: the fixed version of a source behavior that otherwise
	// produced an inconsistent count depending on the format. See
	// DESIGN.md.
	if err := w.appendManifestLine(); err != nil {
		return nil, err
	}
	return w, nil
}

// BlockSize returns the fixed block size this writer was opened with.
func (w *BlockWriter) BlockSize() uint64 { return w.blockSize }

// CurrentBlock returns the index of the block currently being written.
func (w *BlockWriter) CurrentBlock() uint64 { return w.curBlock }

// SafeLen returns how many more payload bytes can be written into the
// current block before its footer region must begin.
func (w *BlockWriter) SafeLen() uint64 {
	remaining := w.Remaining()
	f := uint64(w.format.FooterLen)
	if remaining < f {
		return 0
	}
	return remaining - f
}

// Remaining returns the number of bytes left in the current block,
// including its footer region.
func (w *BlockWriter) Remaining() uint64 {
	if w.curDistance >= w.blockSize {
		return 0
	}
	return w.blockSize - w.curDistance
}

// BlocksUsed returns the set of block indices touched since the last
// ClearBlocksUsed call.
func (w *BlockWriter) BlocksUsed() *roaring.Bitmap { return w.blocksUsed }

// ClearBlocksUsed resets the touched-block set, called at the start of each
// new record by formats with TrackBlocksUsed set.
func (w *BlockWriter) ClearBlocksUsed() { w.blocksUsed = roaring.New() }

// CurAddr returns the address currently associated with the block writer's
// manifest cursor.
func (w *BlockWriter) CurAddr() []byte { return w.curAddr }

// SetCurAddr updates the address recorded at the next manifest boundary.
func (w *BlockWriter) SetCurAddr(addr []byte) { w.curAddr = append(w.curAddr[:0], addr...) }

// StartTx begins a new record, invoking the format's OnStartTx hook.
func (w *BlockWriter) StartTx(addr []byte, length uint32) error {
	return w.format.OnStartTx(w, addr, length)
}

// EndTx finishes the current record, invoking the format's OnEndTx hook.
func (w *BlockWriter) EndTx(addr []byte, length uint32) {
	w.format.OnEndTx(w, addr, length)
}

// PadToHeaderBoundary zero-pads and opens a fresh block if the current
// block's safe space is too small to hold a header — shared by the two
// formats (txdb, A2) whose StartTx must guarantee a clean header slot.
func (w *BlockWriter) PadToHeaderBoundary() error {
	if w.SafeLen() < uint64(w.format.HeaderLen) {
		if err := w.writeZerosRaw(w.SafeLen()); err != nil {
			return err
		}
		return w.NewBlock(0)
	}
	return nil
}

// Write packs data into the current block, splitting across block
// boundaries as needed: each time the remaining safe space runs out, it
// writes the prefix that fits, opens a new block declaring how many bytes
// are still owed, and continues. Every segment written marks the block it
// landed in in BlocksUsed when the format tracks that.
func (w *BlockWriter) Write(data []byte) error {
	if w.SafeLen() == 0 {
		if err := w.NewBlock(uint32(len(data))); err != nil {
			return err
		}
	}
	for uint64(len(data)) > w.SafeLen() {
		safe := w.SafeLen()
		if err := w.rawWrite(data[:safe]); err != nil {
			return err
		}
		w.markBlockUsed()
		data = data[safe:]
		if err := w.NewBlock(uint32(len(data))); err != nil {
			return err
		}
	}
	if err := w.rawWrite(data); err != nil {
		return err
	}
	w.markBlockUsed()
	return nil
}

func (w *BlockWriter) markBlockUsed() {
	if w.format.TrackBlocksUsed {
		w.blocksUsed.Add(uint32(w.curBlock))
	}
}

// NewBlock closes out the current block and opens the next one: invoke
// write_footer, append the manifest line for the address in flight, bump
// the block counters, then invoke write_header for the fresh block.
func (w *BlockWriter) NewBlock(remaining uint32) error {
	if err := w.format.WriteFooter(w, remaining); err != nil {
		return pirerr.Wrap(err, "write footer")
	}
	if err := w.appendManifestLine(); err != nil {
		return err
	}
	w.curBlock++
	w.blocks++
	w.curDistance = uint64(w.format.HeaderLen)
	w.totalSize += uint64(w.format.HeaderLen) + uint64(w.format.FooterLen)
	if err := w.format.WriteHeader(w, remaining); err != nil {
		return pirerr.Wrap(err, "write header")
	}
	return nil
}

// WriteZeros zero-pads the current block by n bytes without going through
// the record-splitting Write path; used to flush a trailing, otherwise-empty
// block at close.
func (w *BlockWriter) WriteZeros(n uint64) error { return w.writeZerosRaw(n) }

// WriteRaw writes bytes directly to the data file without touching the
// record-level cursor accounting; format hooks use it to write header and
// footer bytes, bumping counters themselves only for bytes beyond what the
// engine has already credited via HeaderLen/FooterLen.
func (w *BlockWriter) WriteRaw(b []byte) error {
	if _, err := w.dataFile.Write(b); err != nil {
		return pirerr.IoError("write raw", err)
	}
	return nil
}

// AdvanceExtra credits n extra bytes to the cursor and total size, for
// format hooks that write bytes beyond their declared header_len (the A2
// inline-address case).
func (w *BlockWriter) AdvanceExtra(n uint64) {
	w.curDistance += n
	w.totalSize += n
}

func (w *BlockWriter) rawWrite(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := w.dataFile.Write(data); err != nil {
		return pirerr.IoError("write data", err)
	}
	w.curDistance += uint64(len(data))
	w.totalSize += uint64(len(data))
	return nil
}

func (w *BlockWriter) writeZerosRaw(n uint64) error {
	if n == 0 {
		return nil
	}
	zeros := make([]byte, n)
	if _, err := w.dataFile.Write(zeros); err != nil {
		return pirerr.IoError("write zeros", err)
	}
	w.curDistance += n
	w.totalSize += n
	return nil
}

func (w *BlockWriter) appendManifestLine() error {
	if _, err := w.manifestFile.Write(w.curAddr); err != nil {
		return pirerr.IoError("append manifest line", err)
	}
	if _, err := w.manifestFile.Write([]byte("\n")); err != nil {
		return pirerr.IoError("append manifest line", err)
	}
	return nil
}

// Close zero-pads the final block, runs the format's OnClose hook (which may
// itself open a trailing sentinel block, as AutoDelimitedDB does), appends
// the manifest's final line, and atomically renames both files to their
// block-count-bearing final names. It returns the number of completed
// blocks.
func (w *BlockWriter) Close() (uint64, error) {
	if w.closed {
		return w.blockCount(), nil
	}
	if err := w.writeZerosRaw(w.SafeLen()); err != nil {
		return 0, err
	}
	onClose := w.format.OnClose
	if onClose == nil {
		onClose = DefaultOnClose
	}
	if err := onClose(w); err != nil {
		return 0, err
	}
	if err := w.appendManifestLine(); err != nil {
		return 0, err
	}

	dataPath := w.dataFile.Name()
	manifestPath := w.manifestFile.Name()
	if err := w.dataFile.Close(); err != nil {
		return 0, pirerr.IoError("close data file", err)
	}
	if err := w.manifestFile.Close(); err != nil {
		return 0, pirerr.IoError("close manifest file", err)
	}

	blockCount := w.blockCount()
	finalDataPath := filepath.Join(w.dir, finalName(w.prefix, blockCount, w.blockSize))
	finalManifestPath := finalDataPath + ".manifest"
	if err := os.Rename(dataPath, finalDataPath); err != nil {
		return 0, pirerr.IoError("commit data file", err)
	}
	if err := os.Rename(manifestPath, finalManifestPath); err != nil {
		return 0, pirerr.IoError("commit manifest file", err)
	}

	w.closed = true
	return blockCount, nil
}

// blockCount returns the total number of physical blocks in the file: the
// block opened at Open, plus one for every subsequent NewBlock transition.
func (w *BlockWriter) blockCount() uint64 { return w.blocks + 1 }
