package ember

// merge_operator.go defines the merge-operator contract and the built-in
// operators. A merge entry stored under a key is resolved lazily: the read
// path and compaction collect the operand chain and hand it to the
// configured operator (see applyMerge in db.go and the compaction job's
// merge handling).

import (
	"bytes"

	"github.com/emberkv/ember/internal/encoding"
)

// MergeOperator resolves a chain of merge operands against a base value.
// The engine invokes it from Get, from iterators, and during compaction;
// only the client knows what an operand means (a counter delta, a list
// element, ...), so the operator carries that semantics.
type MergeOperator interface {
	// Name identifies the operator. A database must be reopened with an
	// operator of the same name it was written with.
	Name() string

	// FullMerge combines the existing value (nil when the key has no base
	// value) with the operand chain, oldest operand first. Returning
	// ok=false fails the merge and surfaces as an error on the read.
	FullMerge(key []byte, existingValue []byte, operands [][]byte) (newValue []byte, ok bool)

	// PartialMerge collapses two adjacent operands into one before the
	// base value is known. Optional: returning (nil, false) keeps both
	// operands, it is never an error.
	PartialMerge(key []byte, leftOperand, rightOperand []byte) (newOperand []byte, ok bool)
}

// AssociativeMergeOperator is the reduced contract for operators where
// Merge(Merge(a, b), c) == Merge(a, Merge(b, c)) — counters, set unions,
// concatenation. Wrap one in AssociativeMergeOperatorAdapter to use it as
// a full MergeOperator.
type AssociativeMergeOperator interface {
	Name() string

	// Merge folds value into existingValue; a nil existingValue is the
	// identity element.
	Merge(key []byte, existingValue, value []byte) ([]byte, bool)
}

// AssociativeMergeOperatorAdapter lifts an AssociativeMergeOperator to the
// full MergeOperator contract by left-folding the operand chain.
type AssociativeMergeOperatorAdapter struct {
	Op AssociativeMergeOperator
}

func (a *AssociativeMergeOperatorAdapter) Name() string {
	return a.Op.Name()
}

func (a *AssociativeMergeOperatorAdapter) FullMerge(key []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := existingValue
	for _, op := range operands {
		var ok bool
		result, ok = a.Op.Merge(key, result, op)
		if !ok {
			return nil, false
		}
	}
	return result, true
}

func (a *AssociativeMergeOperatorAdapter) PartialMerge(key []byte, left, right []byte) ([]byte, bool) {
	return a.Op.Merge(key, left, right)
}

// UInt64AddOperator treats the value and every operand as a little-endian
// uint64 and sums them. Anything that is not exactly 8 bytes fails the
// merge.
type UInt64AddOperator struct{}

func (o *UInt64AddOperator) Name() string { return "UInt64AddOperator" }

func (o *UInt64AddOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var sum uint64
	if existingValue != nil {
		if len(existingValue) != 8 {
			return nil, false
		}
		sum = encoding.DecodeFixed64(existingValue)
	}
	for _, op := range operands {
		if len(op) != 8 {
			return nil, false
		}
		sum += encoding.DecodeFixed64(op)
	}
	out := make([]byte, 8)
	encoding.EncodeFixed64(out, sum)
	return out, true
}

func (o *UInt64AddOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	if len(left) != 8 || len(right) != 8 {
		return nil, false
	}
	out := make([]byte, 8)
	encoding.EncodeFixed64(out, encoding.DecodeFixed64(left)+encoding.DecodeFixed64(right))
	return out, true
}

// StringAppendOperator concatenates operands onto the existing value,
// separated by Delimiter.
type StringAppendOperator struct {
	Delimiter string
}

func (o *StringAppendOperator) Name() string { return "StringAppendOperator" }

func (o *StringAppendOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := bytes.Clone(existingValue)
	for _, op := range operands {
		if len(result) > 0 && len(op) > 0 {
			result = append(result, o.Delimiter...)
		}
		result = append(result, op...)
	}
	return result, true
}

func (o *StringAppendOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	if len(left) == 0 {
		return right, true
	}
	if len(right) == 0 {
		return left, true
	}
	result := make([]byte, 0, len(left)+len(o.Delimiter)+len(right))
	result = append(result, left...)
	result = append(result, o.Delimiter...)
	result = append(result, right...)
	return result, true
}

// encodeUint64 and decodeUint64 are the value codec UInt64AddOperator
// expects: fixed-width little-endian, the same layout the rest of the
// engine uses on disk.
func encodeUint64(v uint64) []byte {
	out := make([]byte, 8)
	encoding.EncodeFixed64(out, v)
	return out
}

func decodeUint64(b []byte) uint64 {
	return encoding.DecodeFixed64(b)
}

// MaxOperator keeps the bytewise-largest value seen for the key.
type MaxOperator struct{}

func (o *MaxOperator) Name() string { return "MaxOperator" }

func (o *MaxOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	maxVal := bytes.Clone(existingValue)
	for _, op := range operands {
		if maxVal == nil || bytes.Compare(op, maxVal) > 0 {
			maxVal = bytes.Clone(op)
		}
	}
	return maxVal, true
}

func (o *MaxOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	if bytes.Compare(left, right) >= 0 {
		return bytes.Clone(left), true
	}
	return bytes.Clone(right), true
}
