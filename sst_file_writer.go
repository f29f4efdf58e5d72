package ember

// sst_file_writer.go builds standalone SST files outside any database.
// The files it produces are the input format IngestExternalFile accepts:
// entries carry sequence number zero, and ingestion assigns the real
// sequencing when the file is linked into a version.

import (
	"errors"
	"fmt"
	"os"

	"github.com/emberkv/ember/internal/compression"
	"github.com/emberkv/ember/internal/dbformat"
	"github.com/emberkv/ember/internal/table"
)

// Errors returned by SstFileWriter operations.
var (
	ErrSstWriterAlreadyOpened   = errors.New("sst writer: already opened")
	ErrSstWriterNotOpened       = errors.New("sst writer: not opened")
	ErrSstWriterAlreadyFinished = errors.New("sst writer: already finished")
	ErrSstWriterEmptyFile       = errors.New("sst writer: no entries added")
	ErrSstWriterKeyOutOfOrder   = errors.New("sst writer: keys must be added in strictly increasing order")
)

// SstFileWriterOptions configures an SstFileWriter.
type SstFileWriterOptions struct {
	// Comparator orders the keys. Nil means the default bytewise
	// comparator; it must match the comparator of the database the file
	// will be ingested into.
	Comparator Comparator

	// Compression is the data-block codec.
	Compression compression.Type

	// BlockSize is the target uncompressed data-block size.
	BlockSize int

	// BlockRestartInterval is the number of keys per restart group.
	BlockRestartInterval int

	// FormatVersion selects the table footer layout (0 = classic).
	FormatVersion uint32
}

// DefaultSstFileWriterOptions returns the defaults: bytewise ordering,
// no compression, 4 KiB blocks, classic format.
func DefaultSstFileWriterOptions() SstFileWriterOptions {
	return SstFileWriterOptions{
		Compression:          compression.NoCompression,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FormatVersion:        0,
	}
}

// ExternalSstFileInfo describes a finished external SST file.
type ExternalSstFileInfo struct {
	FilePath   string
	FileSize   uint64
	NumEntries uint64

	// Point-entry user-key range.
	SmallestKey []byte
	LargestKey  []byte

	// Range-deletion entries and their user-key range.
	NumRangeDelEntries  uint64
	SmallestRangeDelKey []byte
	LargestRangeDelKey  []byte
}

// SstFileWriter writes a sorted run of entries into a standalone SST
// file. Keys must be added in strictly increasing order by the
// configured comparator.
type SstFileWriter struct {
	opts SstFileWriterOptions
	cmp  Comparator

	path     string
	file     *os.File
	builder  *table.TableBuilder
	finished bool

	info       ExternalSstFileInfo
	lastKey    []byte
	haveEntry  bool
	rangeDels  []rangeDelEntry
}

type rangeDelEntry struct {
	start, end []byte
}

// NewSstFileWriter creates a writer; call Open before adding entries.
func NewSstFileWriter(opts SstFileWriterOptions) *SstFileWriter {
	cmp := opts.Comparator
	if cmp == nil {
		cmp = DefaultComparator()
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	return &SstFileWriter{opts: opts, cmp: cmp}
}

// Open creates the output file at path.
func (w *SstFileWriter) Open(path string) error {
	if w.file != nil || w.finished {
		return ErrSstWriterAlreadyOpened
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sst writer: create %s: %w", path, err)
	}

	builderOpts := table.DefaultBuilderOptions()
	builderOpts.BlockSize = w.opts.BlockSize
	builderOpts.BlockRestartInterval = w.opts.BlockRestartInterval
	builderOpts.Compression = w.opts.Compression
	builderOpts.FormatVersion = w.opts.FormatVersion
	builderOpts.ComparatorName = w.cmp.Name()

	w.path = path
	w.file = file
	w.builder = table.NewTableBuilder(file, builderOpts)
	w.info = ExternalSstFileInfo{FilePath: path}
	return nil
}

// add appends one point entry with the given value type.
func (w *SstFileWriter) add(key, value []byte, typ dbformat.ValueType) error {
	if w.finished {
		return ErrSstWriterAlreadyFinished
	}
	if w.file == nil {
		return ErrSstWriterNotOpened
	}
	if w.haveEntry && w.cmp.Compare(key, w.lastKey) <= 0 {
		return ErrSstWriterKeyOutOfOrder
	}

	// Entries are tagged with sequence number zero; ingestion assigns
	// the file's real sequencing.
	internalKey := dbformat.NewInternalKey(key, 0, typ)
	if err := w.builder.Add(internalKey, value); err != nil {
		return err
	}

	if !w.haveEntry {
		w.info.SmallestKey = append([]byte(nil), key...)
		w.haveEntry = true
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.info.LargestKey = append(w.info.LargestKey[:0], key...)
	w.info.NumEntries++
	return nil
}

// Put adds a key/value entry.
func (w *SstFileWriter) Put(key, value []byte) error {
	return w.add(key, value, dbformat.TypeValue)
}

// Merge adds a merge operand for key.
func (w *SstFileWriter) Merge(key, value []byte) error {
	return w.add(key, value, dbformat.TypeMerge)
}

// Delete adds a tombstone for key.
func (w *SstFileWriter) Delete(key []byte) error {
	return w.add(key, nil, dbformat.TypeDeletion)
}

// DeleteRange adds a range tombstone covering [startKey, endKey).
func (w *SstFileWriter) DeleteRange(startKey, endKey []byte) error {
	if w.finished {
		return ErrSstWriterAlreadyFinished
	}
	if w.file == nil {
		return ErrSstWriterNotOpened
	}
	if w.cmp.Compare(startKey, endKey) >= 0 {
		return fmt.Errorf("sst writer: empty range deletion [%q, %q)", startKey, endKey)
	}

	// Range tombstones live in their own block; the builder wants them
	// after the point entries, so buffer until Finish.
	w.rangeDels = append(w.rangeDels, rangeDelEntry{
		start: append([]byte(nil), startKey...),
		end:   append([]byte(nil), endKey...),
	})

	if w.info.NumRangeDelEntries == 0 || w.cmp.Compare(startKey, w.info.SmallestRangeDelKey) < 0 {
		w.info.SmallestRangeDelKey = append([]byte(nil), startKey...)
	}
	if w.info.NumRangeDelEntries == 0 || w.cmp.Compare(endKey, w.info.LargestRangeDelKey) > 0 {
		w.info.LargestRangeDelKey = append([]byte(nil), endKey...)
	}
	w.info.NumRangeDelEntries++
	return nil
}

// FileSize returns the bytes written to the output file so far, and the
// final size once Finish has run.
func (w *SstFileWriter) FileSize() uint64 {
	if w.finished {
		return w.info.FileSize
	}
	if w.builder == nil {
		return 0
	}
	return w.builder.FileSize()
}

// Finish writes the table's index and footer, syncs the file, and
// returns its description. An empty writer fails with
// ErrSstWriterEmptyFile and removes the output file.
func (w *SstFileWriter) Finish() (*ExternalSstFileInfo, error) {
	if w.finished {
		return nil, ErrSstWriterAlreadyFinished
	}
	if w.file == nil {
		return nil, ErrSstWriterNotOpened
	}
	if w.info.NumEntries == 0 && w.info.NumRangeDelEntries == 0 {
		w.discard()
		return nil, ErrSstWriterEmptyFile
	}

	for _, rd := range w.rangeDels {
		if err := w.builder.AddRangeTombstone(rd.start, rd.end, 0); err != nil {
			w.discard()
			return nil, err
		}
	}

	if err := w.builder.Finish(); err != nil {
		w.discard()
		return nil, err
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return nil, err
	}

	stat, err := w.file.Stat()
	if err != nil {
		w.discard()
		return nil, err
	}
	w.info.FileSize = uint64(stat.Size())

	if err := w.file.Close(); err != nil {
		return nil, err
	}
	w.file = nil
	w.builder = nil
	w.finished = true

	info := w.info
	return &info, nil
}

// Abandon drops the partially written file.
func (w *SstFileWriter) Abandon() error {
	if w.file == nil {
		return nil
	}
	w.discard()
	w.finished = true
	return nil
}

// discard closes and removes the output file.
func (w *SstFileWriter) discard() {
	if w.builder != nil {
		w.builder.Abandon()
		w.builder = nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if w.path != "" {
		_ = os.Remove(w.path)
	}
}
