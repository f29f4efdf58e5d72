package ember

// destroy.go implements DestroyDB and RepairDB, the two maintenance entry
// points that operate on a closed database directory.

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/emberkv/ember/internal/batch"
	"github.com/emberkv/ember/internal/dbformat"
	"github.com/emberkv/ember/internal/flush"
	"github.com/emberkv/ember/internal/manifest"
	"github.com/emberkv/ember/internal/memtable"
	"github.com/emberkv/ember/internal/table"
	"github.com/emberkv/ember/internal/version"
	"github.com/emberkv/ember/internal/wal"
	"github.com/emberkv/ember/vfs"
)

var manifestFileRegex = regexp.MustCompile(`^MANIFEST-(\d{6})$`)

// DestroyDB removes the contents of the database at name. The database must
// not be open. Files that do not look like database files are left alone, as
// is the directory itself when it still holds such strangers.
func DestroyDB(name string, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}

	entries, err := fs.ListDir(name)
	if err != nil {
		// Missing directory counts as already destroyed.
		return nil
	}

	// Hold the lock while deleting so a concurrent Open loses the race
	// cleanly instead of observing a half-deleted directory.
	lockPath := filepath.Join(name, "LOCK")
	fileLock, err := fs.Lock(lockPath)
	if err != nil {
		return fmt.Errorf("db: unable to lock %s for destroy: %w", name, err)
	}

	var firstErr error
	for _, entry := range entries {
		if entry == "LOCK" || !isDBFile(entry) {
			continue
		}
		if err := fs.Remove(filepath.Join(name, entry)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	_ = fileLock.Close()
	_ = fs.Remove(lockPath)
	// Fails when foreign files remain; that is intentional.
	_ = fs.Remove(name)

	return firstErr
}

// isDBFile reports whether a directory entry is one of ours.
func isDBFile(name string) bool {
	switch {
	case name == "CURRENT", name == "LOG", name == "LOG.old":
		return true
	case manifestFileRegex.MatchString(name):
		return true
	case strings.HasPrefix(name, OptionsFilePrefix):
		return true
	}
	switch filepath.Ext(name) {
	case ".log", ".sst", ".ldb":
		_, err := strconv.ParseUint(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		return err == nil
	}
	return false
}

// repairEnv adapts a repair run to the flush package's DB interface so
// salvaged WAL contents can be dumped through the ordinary flush job.
type repairEnv struct {
	name     string
	fs       vfs.FS
	versions *version.VersionSet
	cmpName  string
}

func (r *repairEnv) NextFileNumber() uint64        { return r.versions.NextFileNumber() }
func (r *repairEnv) SSTFilePath(fileNum uint64) string {
	return filepath.Join(r.name, sstFileName(fileNum))
}
func (r *repairEnv) FS() vfs.FS             { return r.fs }
func (r *repairEnv) DBPath() string         { return r.name }
func (r *repairEnv) ComparatorName() string { return r.cmpName }

// repairInserter applies salvaged batch records to a memtable. Records the
// repairer cannot express at level 0 (range deletes spanning files it has
// not seen yet) are applied as ordinary tombstones over their start key.
type repairInserter struct {
	mem *memtable.MemTable
	seq uint64
}

func (ri *repairInserter) add(typ dbformat.ValueType, key, value []byte) error {
	ri.seq++
	ri.mem.Add(dbformat.SequenceNumber(ri.seq), typ, key, value)
	return nil
}

func (ri *repairInserter) Put(key, value []byte) error { return ri.add(dbformat.TypeValue, key, value) }
func (ri *repairInserter) Delete(key []byte) error     { return ri.add(dbformat.TypeDeletion, key, nil) }
func (ri *repairInserter) SingleDelete(key []byte) error {
	return ri.add(dbformat.TypeSingleDeletion, key, nil)
}
func (ri *repairInserter) Merge(key, value []byte) error {
	return ri.add(dbformat.TypeMerge, key, value)
}
func (ri *repairInserter) DeleteRange(startKey, endKey []byte) error {
	ri.seq++
	ri.mem.AddRangeTombstone(dbformat.SequenceNumber(ri.seq), startKey, endKey)
	return nil
}
func (ri *repairInserter) LogData([]byte) {}

func (ri *repairInserter) PutCF(_ uint32, key, value []byte) error { return ri.Put(key, value) }
func (ri *repairInserter) DeleteCF(_ uint32, key []byte) error     { return ri.Delete(key) }
func (ri *repairInserter) SingleDeleteCF(_ uint32, key []byte) error {
	return ri.SingleDelete(key)
}
func (ri *repairInserter) MergeCF(_ uint32, key, value []byte) error { return ri.Merge(key, value) }
func (ri *repairInserter) DeleteRangeCF(_ uint32, startKey, endKey []byte) error {
	return ri.DeleteRange(startKey, endKey)
}

// RepairDB rebuilds the database metadata at name from whatever survives on
// disk. Every readable table file is re-registered at level 0; WAL segments
// are salvaged into fresh level-0 tables; a new MANIFEST describing the
// result replaces the old ones. Unreadable table files are moved aside into
// a "lost" subdirectory rather than deleted.
//
// Repair loses level assignments and may resurrect data that a compaction
// had already dropped, which is the documented cost of getting a database
// that opens again.
func RepairDB(name string, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}
	comparator := opts.Comparator
	if comparator == nil {
		comparator = DefaultComparator()
	}

	entries, err := fs.ListDir(name)
	if err != nil {
		return fmt.Errorf("db: repair: cannot list %s: %w", name, err)
	}

	fileLock, err := fs.Lock(filepath.Join(name, "LOCK"))
	if err != nil {
		return fmt.Errorf("db: repair: unable to lock %s: %w", name, err)
	}
	defer func() { _ = fileLock.Close() }()

	var (
		tableNums    []uint64
		tableNames   = make(map[uint64]string)
		logNums      []uint64
		oldManifests []string
		maxFileNum   uint64
	)
	for _, entry := range entries {
		if m := manifestFileRegex.FindStringSubmatch(entry); m != nil {
			oldManifests = append(oldManifests, entry)
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil && n > maxFileNum {
				maxFileNum = n
			}
			continue
		}
		ext := filepath.Ext(entry)
		if ext != ".log" && ext != ".sst" && ext != ".ldb" {
			continue
		}
		num, err := strconv.ParseUint(strings.TrimSuffix(entry, ext), 10, 64)
		if err != nil {
			continue
		}
		if num > maxFileNum {
			maxFileNum = num
		}
		if ext == ".log" {
			logNums = append(logNums, num)
		} else {
			tableNums = append(tableNums, num)
			tableNames[num] = entry
		}
	}

	vs := version.NewVersionSet(version.VersionSetOptions{
		DBName:    name,
		FS:        fs,
		NumLevels: version.MaxNumLevels,
	})
	vs.MarkFileNumberUsed(maxFileNum)

	var memCmp memtable.Comparator = comparator.Compare
	env := &repairEnv{name: name, fs: fs, versions: vs, cmpName: comparator.Name()}

	edit := &manifest.VersionEdit{}
	var maxSeq uint64

	// Salvage unflushed writes from every WAL segment into new tables.
	for _, logNum := range logNums {
		mem := memtable.NewMemTable(memCmp)
		ins := &repairInserter{mem: mem}
		salvageLogFile(fs, filepath.Join(name, fmt.Sprintf("%06d.log", logNum)), logNum, ins)
		if ins.seq > maxSeq {
			maxSeq = ins.seq
		}
		if mem.Empty() {
			continue
		}
		meta, err := flush.NewJob(env, mem).Run()
		if err != nil || meta == nil {
			continue
		}
		num := meta.FD.GetNumber()
		tableNums = append(tableNums, num)
		tableNames[num] = sstFileName(num)
	}

	// Re-register every readable table at level 0; quarantine the rest.
	for _, num := range tableNums {
		meta, err := scanTableFile(fs, filepath.Join(name, tableNames[num]), num)
		if err != nil {
			_ = quarantineFile(fs, name, tableNames[num])
			continue
		}
		if uint64(meta.FD.LargestSeqno) > maxSeq {
			maxSeq = uint64(meta.FD.LargestSeqno)
		}
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{Level: 0, Meta: meta})
	}

	edit.HasLastSequence = true
	edit.LastSequence = manifest.SequenceNumber(maxSeq)
	edit.HasLogNumber = true
	edit.LogNumber = vs.NextFileNumber()

	// Point CURRENT at a fresh MANIFEST holding only the salvaged state.
	if err := vs.Create(); err != nil {
		return fmt.Errorf("db: repair: cannot create manifest: %w", err)
	}
	if err := vs.LogAndApply(edit); err != nil {
		_ = vs.Close()
		return fmt.Errorf("db: repair: cannot apply salvaged state: %w", err)
	}
	if err := vs.Close(); err != nil {
		return err
	}

	// The old manifests and salvaged logs are now superseded.
	for _, m := range oldManifests {
		_ = fs.Remove(filepath.Join(name, m))
	}
	for _, logNum := range logNums {
		_ = fs.Remove(filepath.Join(name, fmt.Sprintf("%06d.log", logNum)))
	}

	return nil
}

// salvageLogFile replays as much of a WAL segment as still parses; a
// corrupt tail stops the replay without failing the repair.
func salvageLogFile(fs vfs.FS, path string, logNum uint64, ins *repairInserter) {
	file, err := fs.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	reader := wal.NewReader(file, nil /* reporter */, true /* checksum */, logNum)
	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) || err != nil {
			return
		}
		wb, err := batch.NewFromData(record)
		if err != nil {
			return
		}
		// Preserve the original sequencing so newer duplicates keep
		// winning after the salvage.
		if seq := wb.Sequence(); seq > ins.seq {
			ins.seq = seq
		}
		if err := wb.Iterate(ins); err != nil {
			return
		}
	}
}

// scanTableFile opens a table and walks it end to end, reconstructing the
// metadata the MANIFEST used to carry for it.
func scanTableFile(fs vfs.FS, path string, num uint64) (*manifest.FileMetaData, error) {
	file, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}

	reader, err := table.Open(file, table.ReaderOptions{})
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	meta := manifest.NewFileMetaData()
	meta.FD = manifest.NewFileDescriptor(num, 0, uint64(file.Size()))

	it := reader.NewIterator()
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) < 8 {
			continue
		}
		if count == 0 {
			meta.Smallest = append([]byte(nil), key...)
		}
		meta.Largest = append(meta.Largest[:0], key...)
		seq := manifest.SequenceNumber(extractSequenceNumber(key))
		if seq < meta.FD.SmallestSeqno {
			meta.FD.SmallestSeqno = seq
		}
		if seq > meta.FD.LargestSeqno {
			meta.FD.LargestSeqno = seq
		}
		count++
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("db: repair: table %06d is empty", num)
	}
	return meta, nil
}

// quarantineFile moves an unreadable file into <name>/lost/ so the repair
// result opens cleanly while nothing is destroyed.
func quarantineFile(fs vfs.FS, name, entry string) error {
	lostDir := filepath.Join(name, "lost")
	if err := fs.MkdirAll(lostDir, 0755); err != nil {
		return err
	}
	return fs.Rename(filepath.Join(name, entry), filepath.Join(lostDir, entry))
}
