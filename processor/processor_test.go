package processor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/clambassador/btpir/model"
)

func addr(b byte) model.Address {
	a := make(model.Address, 35)
	for i := range a {
		a[i] = ' '
	}
	a[0] = b
	a[34] = b + 1
	return a
}

func TestProcessorSmallScenario(t *testing.T) {
	// Adapted from the reference implementation's small hand-built
	// scenario: seven transactions over seven overlapping address sets,
	// each transaction's payload length scaling with its index.
	sets := [][]model.Address{
		{addr('b')},
		{addr('a'), addr('b'), addr('c')},
		{addr('d')},
		{addr('e')},
		{addr('f')},
		{addr('g')},
		{addr('h'), addr('i')},
	}

	dir := t.TempDir()
	p := New(dir, "test_out", nil, zap.NewNop())
	for i, s := range sets {
		payload := make([]byte, 800*i)
		if err := p.AddTx(s, payload); err != nil {
			t.Fatalf("AddTx(%d): %v", i, err)
		}
	}

	result, err := p.Build(0, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.TransactionCount != len(sets) {
		t.Errorf("TransactionCount = %d, want %d", result.TransactionCount, len(sets))
	}
	if result.AddressCount != 9 {
		t.Errorf("AddressCount = %d, want 9", result.AddressCount)
	}
	if result.TransactionBlocks == 0 {
		t.Error("TransactionBlocks = 0")
	}

	listing, err := os.ReadFile(filepath.Join(dir, "test_out_address_listing"))
	if err != nil {
		t.Fatalf("read address listing: %v", err)
	}
	if lines := strings.Count(string(listing), "\n"); lines != 9 {
		t.Errorf("address listing has %d lines, want 9", lines)
	}
}

func TestProcessorRejectsShortAddressLength(t *testing.T) {
	p := New(t.TempDir(), "test_out", nil, zap.NewNop())
	tooShort := model.Address(strings.Repeat("x", model.ShortAddressLen))
	if err := p.AddTx([]model.Address{tooShort}, []byte("x")); err == nil {
		t.Fatal("expected an error for an address no longer than the short-form length")
	}
}

func TestProcessorRejectsInconsistentAddressLength(t *testing.T) {
	p := New(t.TempDir(), "test_out", nil, zap.NewNop())
	if err := p.AddTx([]model.Address{addr('a')}, []byte("x")); err != nil {
		t.Fatalf("AddTx: %v", err)
	}
	shortAddr := model.Address(strings.Repeat("y", 30))
	if err := p.AddTx([]model.Address{shortAddr}, []byte("y")); err == nil {
		t.Fatal("expected an error for an inconsistent address length")
	}
}

func TestProcessorHonorsSkipList(t *testing.T) {
	skipped := addr('z')
	dir := t.TempDir()
	p := New(dir, "test_out", [][]byte{skipped}, zap.NewNop())

	if err := p.AddTx([]model.Address{skipped}, []byte("payload-one")); err != nil {
		t.Fatalf("AddTx: %v", err)
	}
	if err := p.AddTx([]model.Address{addr('a')}, []byte("payload-two")); err != nil {
		t.Fatalf("AddTx: %v", err)
	}

	result, err := p.Build(0, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", result.SkippedCount)
	}
	if result.AddressCount != 1 {
		t.Errorf("AddressCount = %d, want 1 (skipped address excluded from the index)", result.AddressCount)
	}

	stats, err := os.ReadFile(filepath.Join(dir, "test_out_address_to_tx_len"))
	if err != nil {
		t.Fatalf("read stats file: %v", err)
	}
	if strings.Contains(string(stats), "payload-one") {
		t.Error("stats file should list addresses and byte counts, not payload text")
	}
	if lines := strings.Count(string(stats), "\n"); lines != 2 {
		t.Errorf("stats file has %d lines, want 2 (both addresses, skipped or not)", lines)
	}
}

func TestRawTxSizeSentinelExcludesLengthPrefixes(t *testing.T) {
	// 21 transactions of 800 bytes each: Sigma|tx| = 16800, but
	// bytePos = Sigma(4+|tx|) = 16884. The sentinel name must carry the
	// former.
	dir := t.TempDir()
	p := New(dir, "test_out", nil, zap.NewNop())
	for i := 0; i < 21; i++ {
		if err := p.AddTx([]model.Address{addr('a')}, make([]byte, 800)); err != nil {
			t.Fatalf("AddTx(%d): %v", i, err)
		}
	}
	if _, err := p.Build(0, false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "test_out_raw_tx_size_16800")); err != nil {
		t.Errorf("expected sentinel test_out_raw_tx_size_16800, got error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "test_out_raw_tx_size_16884")); err == nil {
		t.Error("sentinel must not include the 4-byte length prefixes")
	}
}

func TestGeometryRejectsEmptyInput(t *testing.T) {
	p := New(t.TempDir(), "test_out", nil, zap.NewNop())
	if _, _, err := p.geometry(0); err == nil {
		t.Fatal("expected a geometry error with no ingested transactions")
	}
}
