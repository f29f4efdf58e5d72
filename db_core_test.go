// db_core_test.go - Write-path group commit, memtable rotation, the LOCK
// file, Has, DestroyDB/RepairDB, and table file naming.

package ember

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/emberkv/ember/internal/batch"
)

// =============================================================================
// LOCK file
// =============================================================================

func TestOpenHoldsLockFile(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	db1, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db1.Close()

	if _, err := os.Stat(filepath.Join(dir, "LOCK")); err != nil {
		t.Fatalf("LOCK file not created: %v", err)
	}

	if _, err := Open(dir, opts); err == nil {
		t.Fatal("second Open() on a locked database should fail")
	}
}

func TestLockReleasedOnClose(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	db1, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen after Close() error = %v", err)
	}
	defer db2.Close()
}

// =============================================================================
// Group commit
// =============================================================================

// Concurrent writers must observe a dense, totally ordered sequence space:
// after N single-entry writes the last sequence is exactly N.
func TestConcurrentWritesDenseSequences(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				key := fmt.Appendf(nil, "w%02d-%04d", w, i)
				if err := database.Put(nil, key, key); err != nil {
					t.Errorf("Put: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if got, want := database.GetLatestSequenceNumber(), uint64(writers*perWriter); got != want {
		t.Fatalf("GetLatestSequenceNumber() = %d, want %d (holes or double-assignment)", got, want)
	}

	for w := range writers {
		for i := range perWriter {
			key := fmt.Appendf(nil, "w%02d-%04d", w, i)
			v, err := database.Get(nil, key)
			if err != nil {
				t.Fatalf("Get(%q): %v", key, err)
			}
			if !bytes.Equal(v, key) {
				t.Fatalf("Get(%q) = %q", key, v)
			}
		}
	}
}

// A batch keeps consecutive sequence numbers even when other writers are
// queued around it.
func TestBatchSequencesConsecutive(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	wb := batch.New()
	wb.Put([]byte("a"), []byte("1"))
	wb.Delete([]byte("b"))
	wb.Put([]byte("c"), []byte("3"))

	before := database.GetLatestSequenceNumber()
	if err := database.Write(nil, wb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := database.GetLatestSequenceNumber(), before+3; got != want {
		t.Fatalf("sequence after batch = %d, want %d", got, want)
	}
}

// =============================================================================
// Automatic memtable rotation
// =============================================================================

// Filling the memtable past WriteBufferSize must seal it, rotate the WAL,
// and flush to a level-0 table without an explicit Flush call.
func TestWriteBufferFillTriggersFlush(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.WriteBufferSize = 64 * 1024

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	value := bytes.Repeat([]byte("v"), 1024)
	for i := range 256 {
		key := fmt.Appendf(nil, "key%06d", i)
		if err := database.Put(nil, key, value); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	// Quiesce so the background flush finishes before counting files.
	if err := database.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	tables, err := globTables(dir)
	if err != nil {
		t.Fatalf("globTables: %v", err)
	}
	if len(tables) == 0 {
		t.Fatal("no table files written after filling the write buffer")
	}

	// The sealed memtable's WAL segment becomes obsolete once flushed;
	// more than a couple of live segments means GC is not keeping up.
	logs, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		t.Fatalf("glob logs: %v", err)
	}
	if len(logs) > 2 {
		t.Fatalf("expected obsolete WAL segments to be reclaimed, found %d", len(logs))
	}

	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Everything must still be there after reopen.
	database, err = Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()
	for i := range 256 {
		key := fmt.Appendf(nil, "key%06d", i)
		v, err := database.Get(nil, key)
		if err != nil {
			t.Fatalf("Get(%q) after reopen: %v", key, err)
		}
		if !bytes.Equal(v, value) {
			t.Fatalf("Get(%q) returned %d bytes, want %d", key, len(v), len(value))
		}
	}
}

// =============================================================================
// Has
// =============================================================================

func TestHas(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	ok, err := database.Has(nil, []byte("k"))
	if err != nil || ok {
		t.Fatalf("Has on empty db = (%v, %v), want (false, nil)", ok, err)
	}

	if err := database.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = database.Has(nil, []byte("k"))
	if err != nil || !ok {
		t.Fatalf("Has after Put = (%v, %v), want (true, nil)", ok, err)
	}

	if err := database.Delete(nil, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = database.Has(nil, []byte("k"))
	if err != nil || ok {
		t.Fatalf("Has after Delete = (%v, %v), want (false, nil)", ok, err)
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestRequiredProperties(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	if err := database.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := database.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for _, name := range []string{
		"leveldb.num-files-at-level0",
		"leveldb.stats",
		"leveldb.sstables",
		"leveldb.approximate-memory-usage",
	} {
		if _, ok := database.GetProperty(name); !ok {
			t.Errorf("GetProperty(%q) not supported", name)
		}
	}

	if v, ok := database.GetProperty("leveldb.num-files-at-level0"); !ok || v == "0" {
		t.Errorf("num-files-at-level0 = (%q, %v) after flush", v, ok)
	}
	if _, ok := database.GetProperty("leveldb.num-files-at-level7"); ok {
		t.Error("out-of-range level property should not be supported")
	}
}

// =============================================================================
// Table file naming
// =============================================================================

// New tables carry the .ldb extension; a table renamed to the legacy .sst
// spelling must stay readable.
func TestTableNamingAndLegacyExtension(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := database.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := database.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ldbs, err := filepath.Glob(filepath.Join(dir, "*.ldb"))
	if err != nil || len(ldbs) == 0 {
		t.Fatalf("expected .ldb table files, got %v (err=%v)", ldbs, err)
	}
	if ssts, _ := filepath.Glob(filepath.Join(dir, "*.sst")); len(ssts) != 0 {
		t.Fatalf("no new .sst files should be written, got %v", ssts)
	}

	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a database written before the extension change.
	for _, f := range ldbs {
		legacy := f[:len(f)-len(".ldb")] + ".sst"
		if err := os.Rename(f, legacy); err != nil {
			t.Fatalf("rename to legacy: %v", err)
		}
	}

	database, err = Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen with legacy tables: %v", err)
	}
	defer database.Close()

	v, err := database.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get from legacy .sst table: %v", err)
	}
	if !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get = %q, want %q", v, "v")
	}
}

// =============================================================================
// DestroyDB / RepairDB
// =============================================================================

func TestDestroyDB(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := database.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := database.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := DestroyDB(dir, opts); err != nil {
		t.Fatalf("DestroyDB: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "CURRENT")); !os.IsNotExist(err) {
		t.Fatalf("CURRENT survives destroy: %v", err)
	}
	tables, _ := globTables(dir)
	if len(tables) != 0 {
		t.Fatalf("table files survive destroy: %v", tables)
	}

	// Destroying a nonexistent database is not an error.
	if err := DestroyDB(filepath.Join(dir, "never-existed"), opts); err != nil {
		t.Fatalf("DestroyDB on missing dir: %v", err)
	}
}

func TestRepairDBRebuildsManifest(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = true

	database, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := range 100 {
		key := fmt.Appendf(nil, "key%04d", i)
		if err := database.Put(nil, key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := database.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// A second generation that stays in the WAL only.
	for i := 100; i < 120; i++ {
		key := fmt.Appendf(nil, "key%04d", i)
		if err := database.Put(nil, key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Lose the metadata.
	manifests, err := filepath.Glob(filepath.Join(dir, "MANIFEST-*"))
	if err != nil || len(manifests) == 0 {
		t.Fatalf("no manifests found: %v", err)
	}
	for _, m := range manifests {
		if err := os.Remove(m); err != nil {
			t.Fatalf("remove manifest: %v", err)
		}
	}
	if err := os.Remove(filepath.Join(dir, "CURRENT")); err != nil {
		t.Fatalf("remove CURRENT: %v", err)
	}

	if err := RepairDB(dir, opts); err != nil {
		t.Fatalf("RepairDB: %v", err)
	}

	database, err = Open(dir, opts)
	if err != nil {
		t.Fatalf("open repaired db: %v", err)
	}
	defer database.Close()

	for i := range 120 {
		key := fmt.Appendf(nil, "key%04d", i)
		v, err := database.Get(nil, key)
		if err != nil {
			t.Fatalf("Get(%q) after repair: %v", key, err)
		}
		if !bytes.Equal(v, key) {
			t.Fatalf("Get(%q) = %q after repair", key, v)
		}
	}
}
