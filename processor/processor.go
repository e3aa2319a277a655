// Package processor orchestrates a full build: it ingests transactions one
// at a time, then on Build computes block geometry, packs the transaction
// database, inverts per-transaction block usage into per-address block
// sets, and renders both address-index formats plus the supporting
// manifest and statistics files.
package processor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/clambassador/btpir/addrindex"
	"github.com/clambassador/btpir/model"
	"github.com/clambassador/btpir/pirerr"
	"github.com/clambassador/btpir/txdb"
)

// Result reports what a Build call produced, for the CLI to log.
type Result struct {
	TransactionBlocks      uint64
	TransactionBlockSize   uint64
	AutoDelimitedBlocks    uint64
	AutoDelimitedBlockSize uint64
	DelimitedBlocks        uint64
	DelimitedBlockSize     uint64
	AddressCount           int
	SkippedCount           int
	TransactionCount       int
}

// Processor accumulates transactions, then renders every output file on
// Build. A single instance owns its own address-length state (§9's fix for
// the original's process-wide "static max_addr_len": here it's a plain
// struct field, so two Processors in the same process never interfere).
type Processor struct {
	dir, prefix string
	logger      *zap.Logger
	skipList    map[string]bool // keyed by long address bytes

	addrLen int

	shortToLong     map[string][]byte
	addrToTxLen     map[string]uint64
	addrToPositions map[string]*roaring.Bitmap // short key -> set of tx ordinals

	txs       [][]byte
	bytePos   uint64
	txDataSum uint64
	txOrdinal uint32
}

// New creates a Processor that will write its output files under dir with
// the given filename prefix. skipList holds long-form addresses excluded
// from the address indices (but not from the transaction database).
func New(dir, prefix string, skipList [][]byte, logger *zap.Logger) *Processor {
	skip := make(map[string]bool, len(skipList))
	for _, a := range skipList {
		skip[string(a)] = true
	}
	return &Processor{
		dir:             dir,
		prefix:          prefix,
		logger:          logger,
		skipList:        skip,
		shortToLong:     make(map[string][]byte),
		addrToTxLen:     make(map[string]uint64),
		addrToPositions: make(map[string]*roaring.Bitmap),
	}
}

// AddTx ingests one transaction. Every address referencing it must share the
// same length as every address seen so far (the fixed "long address" width
// this build uses); a short-form collision between two different long
// addresses is rejected as malformed input.
func (p *Processor) AddTx(addresses []model.Address, payload []byte) error {
	if len(addresses) == 0 {
		return pirerr.InputError("add transaction", "transaction has no addresses")
	}
	for _, a := range addresses {
		if p.addrLen == 0 {
			p.addrLen = len(a)
		}
		if len(a) != p.addrLen {
			return pirerr.InputError("add transaction", "inconsistent address length: expected %d, got %d", p.addrLen, len(a))
		}
		if len(a) <= model.ShortAddressLen {
			return pirerr.InputError("add transaction", "address length %d too short for a %d-byte short form", len(a), model.ShortAddressLen)
		}
		short := a.Short()
		if existing, ok := p.shortToLong[short]; ok {
			if string(existing) != string(a) {
				return pirerr.InputError("add transaction", "short-form collision between two distinct addresses")
			}
		} else {
			p.shortToLong[short] = a.Clone()
		}
		p.addrToTxLen[string(a)] += uint64(len(payload))

		bm, ok := p.addrToPositions[short]
		if !ok {
			bm = roaring.New()
			p.addrToPositions[short] = bm
		}
		bm.Add(p.txOrdinal)
	}

	p.txs = append(p.txs, append([]byte(nil), payload...))
	p.bytePos += uint64(model.LengthPrefixSize) + uint64(len(payload))
	p.txDataSum += uint64(len(payload))
	p.txOrdinal++
	return nil
}

// geometry computes the transaction database's block count and size: the
// √N heuristic when blockSizeOverride is 0, or a block count derived from
// the fixed block size otherwise.
func (p *Processor) geometry(blockSizeOverride uint64) (pirBlocks, blockSize uint64, err error) {
	if p.bytePos == 0 {
		return 0, 0, pirerr.GeometryError("compute geometry", "no transactions ingested")
	}
	dbSizeBits := 8 * p.bytePos
	if blockSizeOverride == 0 {
		pirBlocks = uint64(math.Sqrt(float64(dbSizeBits)))
		if pirBlocks == 0 {
			pirBlocks = 1
		}
		dbSize := p.bytePos + 4*pirBlocks
		blockSize = dbSize / pirBlocks
	} else {
		if blockSizeOverride <= 4 {
			return 0, 0, pirerr.GeometryError("compute geometry", "block size override %d must exceed 4", blockSizeOverride)
		}
		blockSize = blockSizeOverride
		pirBlocks = p.bytePos/(blockSize-4) + 1
	}
	if blockSize <= 4 {
		return 0, 0, pirerr.GeometryError("compute geometry", "derived block size %d too small", blockSize)
	}
	return pirBlocks, blockSize, nil
}

// Build packs the transaction database, inverts per-transaction block usage
// into per-address block sets (skipping skip-listed addresses), renders both
// address-index formats, and writes the address manifest and statistics
// files.
func (p *Processor) Build(blockSizeOverride uint64, verbose bool) (Result, error) {
	_, blockSize, err := p.geometry(blockSizeOverride)
	if err != nil {
		return Result{}, err
	}

	db, err := txdb.New(p.dir, fmt.Sprintf("%s_default_blocksize_%d", p.prefix, blockSize), blockSize)
	if err != nil {
		return Result{}, pirerr.Wrap(err, "open transaction database")
	}
	positionMap, txBlocks, err := db.BuildWithPositionMap(p.txs)
	if err != nil {
		return Result{}, pirerr.Wrap(err, "build transaction database")
	}

	addrToBlocks := p.remapAddresses(positionMap)

	shortKeys := lo.Keys(addrToBlocks)
	sort.Strings(shortKeys)

	skipped := 0
	for short := range p.addrToPositions {
		if _, ok := addrToBlocks[short]; !ok {
			skipped++
		}
	}

	autoRecords := make([]addrindex.Record, 0, len(shortKeys))
	delimRecords := make([]addrindex.Record, 0, len(shortKeys))
	pirBlocksForBitmap := txBlocks

	for _, short := range shortKeys {
		long := p.shortToLong[short]
		bm := addrToBlocks[short]
		ids := bm.ToArray()
		if verbose {
			p.logger.Debug("address block usage", zap.String("address", short), zap.Int("blocks", len(ids)))
		}
		autoRecords = append(autoRecords, addrindex.Record{
			Address: long,
			Payload: addrindex.EncodeBitmapRecord(long, ids, pirBlocksForBitmap),
		})
		delimRecords = append(delimRecords, addrindex.Record{
			Address: long,
			Payload: addrindex.EncodeBlockList(long, ids),
		})
	}

	var autoBlocks, autoBlockSize, delimBlocks, delimBlockSize uint64
	if len(autoRecords) > 0 {
		autoBlocks, autoBlockSize, err = addrindex.BuildAutoDelimited(p.dir, "addr_db.fmt1", autoRecords)
		if err != nil {
			return Result{}, pirerr.Wrap(err, "build A1 index")
		}
		delimBlocks, delimBlockSize, err = addrindex.BuildDelimited(p.dir, "addr_db.fmt2", delimRecords)
		if err != nil {
			return Result{}, pirerr.Wrap(err, "build A2 index")
		}
	}

	if err := p.writeAddressListing(shortKeys); err != nil {
		return Result{}, err
	}
	if err := p.writeAddressToTxLen(addrToBlocks); err != nil {
		return Result{}, err
	}
	if err := p.writeRawTxSizeSentinel(); err != nil {
		return Result{}, err
	}

	return Result{
		TransactionBlocks:      txBlocks,
		TransactionBlockSize:   blockSize,
		AutoDelimitedBlocks:    autoBlocks,
		AutoDelimitedBlockSize: autoBlockSize,
		DelimitedBlocks:        delimBlocks,
		DelimitedBlockSize:     delimBlockSize,
		AddressCount:           len(shortKeys),
		SkippedCount:           skipped,
		TransactionCount:       len(p.txs),
	}, nil
}

// remapAddresses unions, for every non-skip-listed address, the block sets
// of every transaction position that referenced it.
//
// The original source checked its skip-list against the same map key it
// indexes _addr_to_positions by — a short-form key — even though the
// skip-list itself was populated with long-form address literals, so the
// check could never match. We compare against the resolved long address
// instead, which is what a skip-list of known addresses is actually meant
// to do. See DESIGN.md.
func (p *Processor) remapAddresses(positionMap map[uint32]*roaring.Bitmap) map[string]*roaring.Bitmap {
	out := make(map[string]*roaring.Bitmap, len(p.addrToPositions))
	for short, positions := range p.addrToPositions {
		long := p.shortToLong[short]
		if p.skipList[string(long)] {
			continue
		}
		blocks := roaring.New()
		positions.Iterate(func(pos uint32) bool {
			if bm, ok := positionMap[pos]; ok {
				blocks.Or(bm)
			}
			return true
		})
		out[short] = blocks
	}
	return out
}

func (p *Processor) writeAddressListing(shortKeys []string) error {
	path := filepath.Join(p.dir, p.prefix+"_address_listing")
	f, err := os.Create(path)
	if err != nil {
		return pirerr.IoError("write address listing", err)
	}
	defer f.Close()
	for _, short := range shortKeys {
		if _, err := f.Write(p.shortToLong[short]); err != nil {
			return pirerr.IoError("write address listing", err)
		}
		if _, err := f.Write([]byte("\n")); err != nil {
			return pirerr.IoError("write address listing", err)
		}
	}
	return nil
}

// writeAddressToTxLen iterates every address seen (including skip-listed
// ones, whose block_count column is 0 since they never entered
// addrToBlocks), matching the original's unfiltered pass over its
// address-to-length map.
func (p *Processor) writeAddressToTxLen(addrToBlocks map[string]*roaring.Bitmap) error {
	path := filepath.Join(p.dir, p.prefix+"_address_to_tx_len")
	f, err := os.Create(path)
	if err != nil {
		return pirerr.IoError("write address tx-length stats", err)
	}
	defer f.Close()

	longs := lo.Keys(p.addrToTxLen)
	sort.Strings(longs)
	for _, long := range longs {
		short := model.Address(long).Short()
		blockCount := 0
		if bm, ok := addrToBlocks[short]; ok {
			blockCount = int(bm.GetCardinality())
		}
		line := fmt.Sprintf("%s %d %d\n", long, p.addrToTxLen[long], blockCount)
		if _, err := f.WriteString(line); err != nil {
			return pirerr.IoError("write address tx-length stats", err)
		}
	}
	return nil
}

// writeRawTxSizeSentinel names the sentinel after the sum of raw transaction
// payload bytes only (Σ|tx|), not p.bytePos (which also counts each
// transaction's 4-byte length prefix) — matching the original's separate
// _tx_data_sum accumulator, kept here as txDataSum for the same reason.
func (p *Processor) writeRawTxSizeSentinel() error {
	path := filepath.Join(p.dir, fmt.Sprintf("%s_raw_tx_size_%d", p.prefix, p.txDataSum))
	f, err := os.Create(path)
	if err != nil {
		return pirerr.IoError("write raw-tx-size sentinel", err)
	}
	return f.Close()
}
