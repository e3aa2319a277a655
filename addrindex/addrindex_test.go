package addrindex

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestPackBitmapRoundTrips(t *testing.T) {
	pirBlocks := uint64(20)
	set := Uint32Set{0, 1, 7, 8, 9, 19}
	packed := PackBitmap(set, pirBlocks)

	want := map[uint32]bool{}
	for _, b := range set {
		want[b] = true
	}
	for b := uint64(0); b < pirBlocks; b++ {
		byteIdx := b / 8
		bitIdx := 7 - (b % 8)
		got := packed[byteIdx]&(1<<bitIdx) != 0
		if got != want[uint32(b)] {
			t.Errorf("bit %d = %v, want %v", b, got, want[uint32(b)])
		}
	}
}

func TestBitmapByteLen(t *testing.T) {
	cases := []struct{ blocks, want uint64 }{
		{0, 0}, {1, 1}, {8, 1}, {9, 2}, {16, 2}, {17, 3},
	}
	for _, c := range cases {
		if got := BitmapByteLen(c.blocks); got != c.want {
			t.Errorf("BitmapByteLen(%d) = %d, want %d", c.blocks, got, c.want)
		}
	}
}

func TestBuildAutoDelimitedRejectsMismatchedLengths(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{Address: []byte("addr-a"), Payload: []byte("0123")},
		{Address: []byte("addr-b"), Payload: []byte("01234")},
	}
	if _, _, err := BuildAutoDelimited(dir, "fmt1", records); err == nil {
		t.Fatal("expected an error for mismatched record lengths")
	}
}

func TestBuildAutoDelimitedOneRecordPerBlock(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{Address: []byte("addr-a"), Payload: []byte("AAAA")},
		{Address: []byte("addr-b"), Payload: []byte("BBBB")},
	}
	blocks, blockSize, err := BuildAutoDelimited(dir, "fmt1", records)
	if err != nil {
		t.Fatalf("BuildAutoDelimited: %v", err)
	}
	if blockSize != 4 {
		t.Errorf("blockSize = %d, want 4", blockSize)
	}
	// Two real records plus the trailing sentinel block from close.
	if blocks != 3 {
		t.Errorf("blocks = %d, want 3", blocks)
	}

	entries, _ := os.ReadDir(dir)
	var dataPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".manifest" {
			dataPath = filepath.Join(dir, e.Name())
		}
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "AAAABBBB\x00\x00\x00\x00"
	if string(data) != want {
		t.Errorf("data = %q, want %q", data, want)
	}
}

func TestDelimitedBlockSizeFormula(t *testing.T) {
	// block_size_bits = 16 + floor(sqrt(8N+256)); block_size = bits/8.
	got := DelimitedBlockSize(0)
	want := uint64((16 + 16) / 8) // sqrt(256) == 16
	if got != want {
		t.Errorf("DelimitedBlockSize(0) = %d, want %d", got, want)
	}
}

func TestEncodeBlockListLittleEndian(t *testing.T) {
	addr := []byte("0123456789012345678901234567890123456789")
	payload := EncodeBlockList(addr, []uint32{1, 2, 0x01020304})
	if len(payload) != len(addr)+4+4*3 {
		t.Fatalf("unexpected payload length %d", len(payload))
	}
	count := binary.LittleEndian.Uint32(payload[len(addr):])
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	lastID := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	if lastID != 0x01020304 {
		t.Errorf("lastID = %x, want %x", lastID, 0x01020304)
	}
}
