package engine

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func readManifestLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// simpleFormat is a no-header, no-footer format used to test the generic
// packing loop in isolation from any concrete on-disk layout.
func simpleFormat() Format {
	return Format{
		HeaderLen:   0,
		FooterLen:   0,
		WriteHeader: NoopHeader,
		WriteFooter: NoopFooter,
		OnStartTx: func(w *BlockWriter, addr []byte, length uint32) error {
			w.SetCurAddr(addr)
			return nil
		},
		OnEndTx: NoopEndTx,
		OnClose: DefaultOnClose,
	}
}

func TestBlockWriterSplitsPayloadAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	bw, err := Open(dir, "test", 4, simpleFormat())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := bw.StartTx([]byte("addr-a"), 10); err != nil {
		t.Fatalf("StartTx: %v", err)
	}
	if err := bw.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	bw.EndTx([]byte("addr-a"), 10)

	blocks, err := bw.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	// 10 bytes into 4-byte blocks with no header/footer: 3 full blocks
	// (12 bytes of capacity) house the 10 payload bytes plus 2 zero-pad
	// bytes in the final block.
	if blocks != 3 {
		t.Errorf("blocks = %d, want 3", blocks)
	}

	finalPath := filepath.Join(dir, finalName("test", blocks, 4))
	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	want := []byte("0123456789\x00\x00")
	if !bytes.Equal(data, want) {
		t.Errorf("data = %q, want %q", data, want)
	}
}

func TestManifestLengthIsBlocksPlusOne(t *testing.T) {
	dir := t.TempDir()
	bw, err := Open(dir, "test", 4, simpleFormat())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records := []struct {
		addr string
		data string
	}{
		{"addr-a", "aaaa"},
		{"addr-b", "bbbbbbbb"},
		{"addr-c", "cc"},
	}
	for _, r := range records {
		if err := bw.StartTx([]byte(r.addr), uint32(len(r.data))); err != nil {
			t.Fatalf("StartTx: %v", err)
		}
		if err := bw.Write([]byte(r.data)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		bw.EndTx([]byte(r.addr), uint32(len(r.data)))
	}

	blocks, err := bw.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	manifestPath := filepath.Join(dir, finalName("test", blocks, 4)) + ".manifest"
	lines := readManifestLines(t, manifestPath)
	if uint64(len(lines)) != blocks+1 {
		t.Errorf("manifest has %d lines, want blocks+1 = %d", len(lines), blocks+1)
	}
}

func TestSafeLenAccountsForFooter(t *testing.T) {
	dir := t.TempDir()
	format := simpleFormat()
	format.FooterLen = 2
	bw, err := Open(dir, "test", 10, format)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := bw.SafeLen(); got != 8 {
		t.Errorf("SafeLen() = %d, want 8", got)
	}
}

func TestBlocksUsedTracksSplitWrites(t *testing.T) {
	dir := t.TempDir()
	format := simpleFormat()
	format.TrackBlocksUsed = true
	bw, err := Open(dir, "test", 4, format)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := bw.StartTx([]byte("a"), 10); err != nil {
		t.Fatalf("StartTx: %v", err)
	}
	if err := bw.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	used := bw.BlocksUsed().ToArray()
	if len(used) != 3 {
		t.Errorf("blocks used = %v, want 3 distinct blocks", used)
	}
	if _, err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
