// Package db provides tests for the extended DB APIs.
//
package ember

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyMayExist(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Test non-existent key
	mayExist, valueFound := impl.KeyMayExist(nil, []byte("nonexistent"), nil)
	// KeyMayExist is conservative - may return true for non-existent keys
	_ = mayExist
	if valueFound {
		t.Error("valueFound should be false for non-existent key")
	}

	// Write a key
	if err := db.Put(nil, []byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Test existing key
	var value []byte
	mayExist, valueFound = impl.KeyMayExist(nil, []byte("key1"), &value)
	if !mayExist {
		t.Error("mayExist should be true for existing key")
	}
	// valueFound may be true if key is in memtable
	_ = valueFound // Used to verify the API returns correctly
}

func TestWaitForCompact(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Write some data
	for i := range 100 {
		key := []byte(string(rune('a' + i%26)))
		if err := db.Put(nil, key, []byte("value")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Wait for compaction with timeout
	err = impl.WaitForCompact(&WaitForCompactOptions{
		Timeout:    time.Second,
		FlushFirst: true,
	})
	if err != nil {
		t.Logf("WaitForCompact returned: %v (may be expected)", err)
	}
}

func TestGetApproximateSizes(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Write some data
	for i := range 1000 {
		key := []byte(string(rune('a'+i%26)) + string(rune('0'+i%10)))
		if err := db.Put(nil, key, []byte("value123456789")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Get approximate sizes
	ranges := []Range{
		{Start: []byte("a"), Limit: []byte("m")},
		{Start: []byte("m"), Limit: []byte("z")},
	}
	sizes, err := impl.GetApproximateSizes(ranges, SizeApproximationIncludeMemtables|SizeApproximationIncludeFiles)
	if err != nil {
		t.Fatalf("GetApproximateSizes failed: %v", err)
	}

	if len(sizes) != 2 {
		t.Errorf("Expected 2 sizes, got %d", len(sizes))
	}

	// Sizes should be non-zero since we have data
	t.Logf("Range sizes: %v", sizes)
}

func TestGetApproximateMemTableStats(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Write some data
	for i := range 100 {
		key := []byte(string(rune('a' + i%26)))
		if err := db.Put(nil, key, []byte("value")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Get memtable stats
	r := Range{Start: nil, Limit: nil}
	count, size := impl.GetApproximateMemTableStats(r)

	if count == 0 {
		t.Error("Expected non-zero count")
	}
	if size == 0 {
		t.Error("Expected non-zero size")
	}

	t.Logf("MemTable stats: count=%d, size=%d", count, size)
}

func TestNumberLevels(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	numLevels := impl.NumberLevels()
	if numLevels <= 0 {
		t.Errorf("Expected positive number of levels, got %d", numLevels)
	}
	t.Logf("Number of levels: %d", numLevels)
}

func TestLevel0StopWriteTrigger(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	trigger := impl.Level0StopWriteTrigger()
	if trigger <= 0 {
		t.Errorf("Expected positive trigger, got %d", trigger)
	}
	t.Logf("Level0StopWriteTrigger: %d", trigger)
}

func TestGetName(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	name := impl.GetName()
	if name != dir {
		t.Errorf("Expected name %q, got %q", dir, name)
	}
}

func TestGetEnv(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	env := impl.GetEnv()
	if env == nil {
		t.Error("Expected non-nil Env")
	}
}

func TestGetOptions(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.WriteBufferSize = 12345678
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	gotOpts := impl.GetOptions()
	if gotOpts.WriteBufferSize != 12345678 {
		t.Errorf("Expected WriteBufferSize 12345678, got %d", gotOpts.WriteBufferSize)
	}
}

func TestSetOptions(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Set new options
	err = impl.SetOptions(map[string]string{
		"write_buffer_size": "9999999",
	})
	if err != nil {
		t.Fatalf("SetOptions failed: %v", err)
	}

	// Verify
	gotOpts := impl.GetOptions()
	if gotOpts.WriteBufferSize != 9999999 {
		t.Errorf("Expected WriteBufferSize 9999999, got %d", gotOpts.WriteBufferSize)
	}
}

func TestGetIntProperty(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Write some data
	if err := db.Put(nil, []byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Get int property
	val, ok := impl.GetIntProperty("leveldb.num-entries-active-mem-table")
	if ok {
		t.Logf("Property value: %d", val)
	}
}

func TestNewIterators(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Create iterators for default CF
	cfs := []ColumnFamilyHandle{impl.DefaultColumnFamily()}
	iters, err := impl.NewIterators(nil, cfs)
	if err != nil {
		t.Fatalf("NewIterators failed: %v", err)
	}

	if len(iters) != 1 {
		t.Errorf("Expected 1 iterator, got %d", len(iters))
	}

	for _, iter := range iters {
		if iter != nil {
			iter.Close()
		}
	}
}

func TestLockUnlockWAL(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Lock WAL
	if err := impl.LockWAL(); err != nil {
		t.Fatalf("LockWAL failed: %v", err)
	}

	// Unlock WAL
	if err := impl.UnlockWAL(); err != nil {
		t.Fatalf("UnlockWAL failed: %v", err)
	}
}

func TestResume(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Resume should be a no-op
	if err := impl.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
}

func TestResetStats(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// ResetStats should be a no-op
	if err := impl.ResetStats(); err != nil {
		t.Fatalf("ResetStats failed: %v", err)
	}
}

func TestCompactFiles(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	impl := db.(*DBImpl)

	// Write some data
	for i := range 100 {
		if err := db.Put(nil, []byte(string(rune('a'+i%26))), []byte("value")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Flush to create SST files
	if err := db.Flush(nil); err != nil {
		// May fail with "immutable memtable already exists" - that's ok
		t.Logf("Flush: %v", err)
	}

	// Get live files
	files, _, err := impl.GetLiveFiles(false)
	if err != nil {
		t.Fatalf("GetLiveFiles failed: %v", err)
	}

	// Filter to SST files
	var sstFiles []string
	for _, f := range files {
		if filepath.Ext(f) == ".sst" {
			sstFiles = append(sstFiles, f)
		}
	}

	if len(sstFiles) > 0 {
		// CompactFiles with SST files
		err = impl.CompactFiles(nil, sstFiles, 1)
		if err != nil {
			t.Logf("CompactFiles: %v (may be expected)", err)
		}
	}
}

func TestRangeHelpers(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// Test rangesOverlap helper
	cmp := DefaultComparator()

	tests := []struct {
		s1, l1, s2, l2 []byte
		overlap        bool
	}{
		{[]byte("a"), []byte("c"), []byte("b"), []byte("d"), true},  // Overlapping
		{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), false}, // Disjoint
		{[]byte("a"), []byte("d"), []byte("b"), []byte("c"), true},  // Contained
		{nil, nil, []byte("a"), []byte("z"), true},                  // Full range overlaps
		{[]byte("m"), nil, []byte("a"), []byte("z"), true},          // Partial range
	}

	for i, tc := range tests {
		got := rangesOverlap(tc.s1, tc.l1, tc.s2, tc.l2, cmp)
		if got != tc.overlap {
			t.Errorf("Test %d: rangesOverlap(%q, %q, %q, %q) = %v, want %v",
				i, tc.s1, tc.l1, tc.s2, tc.l2, got, tc.overlap)
		}
	}
}

func TestSizeApproximationFlags(t *testing.T) {
	// Test flag combinations
	flags := SizeApproximationIncludeMemtables | SizeApproximationIncludeFiles

	if (flags & SizeApproximationIncludeMemtables) == 0 {
		t.Error("Expected memtables flag to be set")
	}
	if (flags & SizeApproximationIncludeFiles) == 0 {
		t.Error("Expected files flag to be set")
	}

	// Test none
	if SizeApproximationNone != 0 {
		t.Error("Expected none to be 0")
	}
}

func TestDBImplImplementsExtendedAPI(t *testing.T) {
	// Compile-time check that DBImpl implements all extended APIs
	var _ interface {
		KeyMayExist(*ReadOptions, []byte, *[]byte) (bool, bool)
		WaitForCompact(*WaitForCompactOptions) error
		GetApproximateSizes([]Range, SizeApproximationFlags) ([]uint64, error)
		NumberLevels() int
		Level0StopWriteTrigger() int
		GetName() string
		GetOptions() Options
		SetOptions(map[string]string) error
		GetIntProperty(string) (uint64, bool)
		NewIterators(*ReadOptions, []ColumnFamilyHandle) ([]Iterator, error)
		Resume() error
		LockWAL() error
		UnlockWAL() error
		ResetStats() error
		CompactFiles(*CompactionOptions, []string, int) error
	} = (*DBImpl)(nil)
}

// Cleanup helper for tests
func cleanup(path string) {
	os.RemoveAll(path)
}
