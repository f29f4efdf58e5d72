package filter

import "encoding/binary"

// BaseLg controls how often a new filter is generated: one filter covers
// every 1<<BaseLg bytes of data-block output (default 2KiB), rather than one
// filter per data block. This amortizes filter overhead across small blocks
// while still letting a point lookup test only the slice relevant to the
// data block it lands in.
const BaseLg = 11

// Base is the number of data-block bytes covered by one filter.
const Base = 1 << BaseLg

// PolicyName is the identifier persisted in the meta-index block key
// ("filter." + PolicyName) and used to recognize the filter on read.
const PolicyName = "leveldb.BuiltinBloomFilter2"

// Builder accumulates keys per data block and emits a filter every Base
// bytes of data-block output, producing a single filter-block blob laid out
// as:
//
//	[filter_0][filter_1]...[filter_N-1]
//	[offset_0: u32][offset_1: u32]...[offset_N-1: u32]
//	[array_offset: u32]
//	[base_lg: u8]
type Builder struct {
	bitsPerKey int

	keys          [][]byte // keys for the filter currently being accumulated
	result        []byte   // filters emitted so far, concatenated
	filterOffsets []uint32

	lastFilterIndex int // Base-sized chunks already covered by a generated filter
	totalKeys       int // keys added across the builder's whole lifetime
}

// NewBuilder creates a filter-block builder targeting bitsPerKey bits of
// filter per key (10 yields roughly a 1% false-positive rate).
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// StartBlock is called with the file offset a new data block is about to be
// written at. It closes out filters for every Base-sized chunk of output
// that the previous call to StartBlock didn't already cover.
func (b *Builder) StartBlock(blockOffset uint64) {
	filterIndex := int(blockOffset / Base)
	for filterIndex > b.lastFilterIndex {
		b.generateFilter()
		b.lastFilterIndex++
	}
}

// AddKey adds a user key to the filter currently being accumulated.
func (b *Builder) AddKey(key []byte) {
	k := append([]byte(nil), key...)
	b.keys = append(b.keys, k)
	b.totalKeys++
}

// NumKeys returns the number of keys added across the builder's whole
// lifetime, including keys already folded into a finished filter chunk.
func (b *Builder) NumKeys() int {
	return b.totalKeys
}

func (b *Builder) generateFilter() {
	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
	if len(b.keys) == 0 {
		return
	}
	b.result = BuildFilter(b.keys, b.bitsPerKey, b.result)
	b.keys = b.keys[:0]
}

// Finish closes out any pending filter and returns the encoded filter block.
func (b *Builder) Finish() []byte {
	if len(b.keys) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	buf := make([]byte, 0, len(b.result)+4*len(b.filterOffsets)+4+1)
	buf = append(buf, b.result...)
	for _, off := range b.filterOffsets {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	buf = binary.LittleEndian.AppendUint32(buf, arrayOffset)
	buf = append(buf, byte(BaseLg))
	return buf
}

// Reader parses a filter block produced by Builder and answers point-lookup
// membership queries keyed by the data block's starting file offset.
type Reader struct {
	data        []byte
	offsetStart int
	numFilters  int
	baseLg      byte
}

// NewReader parses contents as a filter block. It returns nil if contents is
// too short to be a well-formed filter block.
func NewReader(contents []byte) *Reader {
	n := len(contents)
	if n < 5 {
		return nil
	}

	baseLg := contents[n-1]
	arrayOffset := binary.LittleEndian.Uint32(contents[n-5 : n-1])
	if uint64(arrayOffset) > uint64(n-5) {
		return nil // corrupt: array offset points past the offset table
	}

	offsetTableLen := (n - 5) - int(arrayOffset)
	if offsetTableLen%4 != 0 {
		return nil
	}

	return &Reader{
		data:        contents,
		offsetStart: int(arrayOffset),
		numFilters:  offsetTableLen / 4,
		baseLg:      baseLg,
	}
}

// KeyMayMatch reports whether key may be present among the keys added to the
// data block starting at blockOffset. A false result is a firm guarantee of
// absence, letting the caller skip reading that data block entirely.
func (r *Reader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r == nil {
		return true // no filter: caller must fall back to reading the block
	}

	index := int(blockOffset >> r.baseLg)
	if index >= r.numFilters {
		return true // out of range: be conservative
	}

	start := r.filterBound(index)
	limit := r.filterBound(index + 1)
	if start > limit || limit > uint32(r.offsetStart) {
		return true // corrupt bounds: fail open
	}
	if start == limit {
		return false // empty filter for this chunk means no keys were added
	}

	return KeyMayMatch(key, r.data[start:limit])
}

func (r *Reader) filterBound(i int) uint32 {
	off := r.offsetStart + i*4
	return binary.LittleEndian.Uint32(r.data[off : off+4])
}
