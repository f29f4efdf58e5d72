// seqno_prefix.go implements the "seqno-prefix (no holes)" verification
// model for crash recovery.
//
// The recovered database must contain exactly the writes whose sequence
// numbers are <= GetLatestSequenceNumber() after reopen; the trace is
// replayed with that cutoff to reconstruct the expected state.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/emberkv/ember/internal/batch"
	"github.com/emberkv/ember/internal/trace"
)

// seqnoPrefixState is the expected key space after replaying a trace up to
// a sequence-number cutoff. Keys are the stress tool's numeric keys; values
// are the 4-byte value bases it writes.
type seqnoPrefixState struct {
	keys map[int]uint32
}

func newSeqnoPrefixState() *seqnoPrefixState {
	return &seqnoPrefixState{keys: make(map[int]uint32)}
}

func (s *seqnoPrefixState) put(keyNum int, valBase uint32) {
	s.keys[keyNum] = valBase
}

func (s *seqnoPrefixState) delete(keyNum int) {
	delete(s.keys, keyNum)
}

func (s *seqnoPrefixState) get(keyNum int) (uint32, bool) {
	v, ok := s.keys[keyNum]
	return v, ok
}

// parseStressKeyNum decodes the stress tool's zero-padded decimal key.
// Returns -1 for keys in any other shape.
func parseStressKeyNum(key []byte) int {
	if len(key) == 0 {
		return -1
	}
	n := 0
	for _, c := range key {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// parseStressValueBase decodes the big-endian value base from the first
// four value bytes. Short values decode to 0.
func parseStressValueBase(value []byte) uint32 {
	if len(value) < 4 {
		return 0
	}
	return uint32(value[0])<<24 | uint32(value[1])<<16 | uint32(value[2])<<8 | uint32(value[3])
}

// seqnoStateHandler applies a write batch to a seqnoPrefixState.
type seqnoStateHandler struct {
	state *seqnoPrefixState
}

func (h *seqnoStateHandler) Put(key, value []byte) error {
	if n := parseStressKeyNum(key); n >= 0 {
		h.state.put(n, parseStressValueBase(value))
	}
	return nil
}

func (h *seqnoStateHandler) Delete(key []byte) error {
	if n := parseStressKeyNum(key); n >= 0 {
		h.state.delete(n)
	}
	return nil
}

func (h *seqnoStateHandler) SingleDelete(key []byte) error { return h.Delete(key) }

func (h *seqnoStateHandler) Merge(key, value []byte) error { return h.Put(key, value) }

func (h *seqnoStateHandler) DeleteRange(startKey, endKey []byte) error {
	start := parseStressKeyNum(startKey)
	end := parseStressKeyNum(endKey)
	if start < 0 || end < 0 {
		return nil
	}
	for n := start; n < end; n++ {
		h.state.delete(n)
	}
	return nil
}

func (h *seqnoStateHandler) LogData([]byte) {}

func (h *seqnoStateHandler) PutCF(_ uint32, key, value []byte) error { return h.Put(key, value) }
func (h *seqnoStateHandler) DeleteCF(_ uint32, key []byte) error     { return h.Delete(key) }
func (h *seqnoStateHandler) SingleDeleteCF(_ uint32, key []byte) error {
	return h.SingleDelete(key)
}
func (h *seqnoStateHandler) MergeCF(_ uint32, key, value []byte) error { return h.Merge(key, value) }
func (h *seqnoStateHandler) DeleteRangeCF(_ uint32, startKey, endKey []byte) error {
	return h.DeleteRange(startKey, endKey)
}

// replayTraceFileSeqno replays write records whose recorded sequence number
// is <= cutoff into state. Returns how many records were replayed and how
// many pre-cutoff records were skipped because they failed to decode.
func replayTraceFileSeqno(path string, cutoff uint64, state *seqnoPrefixState) (replayed, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	tr, err := trace.NewReader(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read trace header: %w", err)
	}

	handler := &seqnoStateHandler{state: state}
	for {
		rec, rerr := tr.Read()
		if errors.Is(rerr, io.EOF) || rec == nil && rerr == nil {
			break
		}
		if rerr != nil {
			// A torn tail is expected after a crash; everything before
			// it has already been applied.
			break
		}
		if rec.Type != trace.TypeWrite {
			continue
		}
		payload, perr := trace.DecodeWritePayloadV2(rec.Payload)
		if perr != nil {
			skipped++
			continue
		}
		if payload.SequenceNumber > cutoff {
			continue
		}
		wb, werr := batch.NewFromData(payload.Data)
		if werr != nil {
			skipped++
			continue
		}
		if ierr := wb.Iterate(handler); ierr != nil {
			skipped++
			continue
		}
		replayed++
	}
	return replayed, skipped, nil
}
