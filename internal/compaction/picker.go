// picker.go implements CompactionPicker for selecting files to compact.
//
// CompactionPicker is an abstract interface for selecting compaction targets.
// Different compaction styles (Level, Universal, FIFO) implement this interface.
//
package compaction

import (
	"github.com/emberkv/ember/internal/manifest"
	"github.com/emberkv/ember/internal/version"
)

// CompactionPicker is responsible for selecting files for compaction.
type CompactionPicker interface {
	// NeedsCompaction returns true if compaction is needed.
	NeedsCompaction(v *version.Version) bool

	// PickCompaction selects files for the next compaction.
	// Returns nil if no compaction is needed.
	PickCompaction(v *version.Version) *Compaction
}

// LeveledCompactionPicker implements leveled compaction strategy.
// This is the default RocksDB compaction style.
type LeveledCompactionPicker struct {
	// Options
	NumLevels             int
	L0CompactionTrigger   int     // Number of L0 files to trigger compaction
	L0StopWritesTrigger   int     // Number of L0 files to stall writes
	MaxBytesForLevelBase  uint64  // Target size for L1
	MaxBytesForLevelMulti float64 // Multiplier for each subsequent level
	TargetFileSizeBase    uint64  // Target file size for L1
	TargetFileSizeMulti   float64 // Multiplier for file size at each level
}

// DefaultLeveledCompactionPicker returns a picker with default settings.
func DefaultLeveledCompactionPicker() *LeveledCompactionPicker {
	return &LeveledCompactionPicker{
		NumLevels:             7,
		L0CompactionTrigger:   4,
		L0StopWritesTrigger:   12,
		MaxBytesForLevelBase:  10 * 1024 * 1024, // 10MB
		MaxBytesForLevelMulti: 10.0,
		TargetFileSizeBase:    2 * 1024 * 1024, // 2MiB
		TargetFileSizeMulti:   1.0,
	}
}

// NeedsCompaction returns true if compaction should be triggered.
func (p *LeveledCompactionPicker) NeedsCompaction(v *version.Version) bool {
	// Check L0 file count
	l0Files := v.NumFiles(0)
	if l0Files >= p.L0CompactionTrigger {
		return true
	}

	// Check each level's size
	for level := 1; level < p.NumLevels-1; level++ {
		if p.computeScore(v, level) >= 1.0 {
			return true
		}
	}

	return false
}

// PickCompaction selects the next compaction to perform.
func (p *LeveledCompactionPicker) PickCompaction(v *version.Version) *Compaction {
	// Priority 1: L0 compaction if too many files
	l0Files := v.NumFiles(0)
	if l0Files >= p.L0CompactionTrigger {
		return p.pickL0Compaction(v)
	}

	// Priority 2: Find the level with highest score
	bestLevel := -1
	bestScore := 0.0

	for level := 1; level < p.NumLevels-1; level++ {
		score := p.computeScore(v, level)
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}

	if bestLevel >= 0 && bestScore >= 1.0 {
		return p.pickLevelCompaction(v, bestLevel, bestScore)
	}

	return nil
}

// computeScore calculates the compaction score for a level.
// Score >= 1.0 means compaction is needed.
func (p *LeveledCompactionPicker) computeScore(v *version.Version, level int) float64 {
	if level == 0 {
		// For L0, score is based on file count
		return float64(v.NumFiles(0)) / float64(p.L0CompactionTrigger)
	}

	// For other levels, score is based on size
	levelSize := v.NumLevelBytes(level)
	targetSize := p.targetSizeForLevel(level)

	if targetSize == 0 {
		return 0
	}

	return float64(levelSize) / float64(targetSize)
}

// targetSizeForLevel returns the target size for a level.
func (p *LeveledCompactionPicker) targetSizeForLevel(level int) uint64 {
	if level == 0 {
		return 0 // L0 uses file count, not size
	}

	size := p.MaxBytesForLevelBase
	for i := 1; i < level; i++ {
		size = uint64(float64(size) * p.MaxBytesForLevelMulti)
	}
	return size
}

// targetFileSizeForLevel returns the target file size for a level.
func (p *LeveledCompactionPicker) targetFileSizeForLevel(level int) uint64 {
	size := p.TargetFileSizeBase
	for range level {
		size = uint64(float64(size) * p.TargetFileSizeMulti)
	}
	return size
}

// pickL0Compaction picks a compaction from L0 to L1.
func (p *LeveledCompactionPicker) pickL0Compaction(v *version.Version) *Compaction {
	l0Files := v.Files(0)
	if len(l0Files) == 0 {
		return nil
	}

	// Filter out files that are being compacted
	var availableFiles []*manifest.FileMetaData
	for _, f := range l0Files {
		if !f.BeingCompacted {
			availableFiles = append(availableFiles, f)
		}
	}
	if len(availableFiles) == 0 {
		return nil
	}

	// Start with available L0 files (they may overlap)
	l0Input := &CompactionInputFiles{
		Level: 0,
		Files: make([]*manifest.FileMetaData, len(availableFiles)),
	}
	copy(l0Input.Files, availableFiles)

	// Find the key range covered by L0 files
	var smallest, largest []byte
	for _, f := range availableFiles {
		if smallest == nil || compareKeys(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if largest == nil || compareKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}

	// Find overlapping files in L1 that are not being compacted
	l1Files := v.OverlappingInputs(1, smallest, largest)
	var l1Available []*manifest.FileMetaData
	for _, f := range l1Files {
		if !f.BeingCompacted {
			l1Available = append(l1Available, f)
		}
	}
	l1Input := &CompactionInputFiles{
		Level: 1,
		Files: l1Available,
	}

	inputs := []*CompactionInputFiles{l0Input}
	if len(l1Input.Files) > 0 {
		inputs = append(inputs, l1Input)
	}

	c := NewCompaction(inputs, 1)
	c.Reason = CompactionReasonLevelL0FileNumTrigger
	c.Score = float64(len(l0Files)) / float64(p.L0CompactionTrigger)
	c.MaxOutputFileSize = p.targetFileSizeForLevel(1)
	p.setGrandparents(c, v, 1, smallest, largest)

	return c
}

// pickLevelCompaction picks a compaction from level to level+1.
func (p *LeveledCompactionPicker) pickLevelCompaction(v *version.Version, level int, score float64) *Compaction {
	files := v.Files(level)
	if len(files) == 0 {
		return nil
	}

	var available []*manifest.FileMetaData
	for _, f := range files {
		if !f.BeingCompacted {
			available = append(available, f)
		}
	}

	// Pick the file with the largest size (simple heuristic)
	var picked *manifest.FileMetaData
	var maxSize uint64
	for _, f := range available {
		if f.FD.FileSize > maxSize {
			maxSize = f.FD.FileSize
			picked = f
		}
	}

	if picked == nil {
		return nil
	}

	// Extend the input with every file that shares a boundary user key.
	// Leaving such a file behind while a newer entry for the same user key
	// moves down a level would invert "newest wins" for that key.
	levelFiles := addBoundaryInputs(available, []*manifest.FileMetaData{picked})

	smallest, largest := keyRangeOf(levelFiles)

	// Find overlapping files in level+1 that are not being compacted
	nextLevel := level + 1
	var nextAvailable []*manifest.FileMetaData
	for _, f := range v.OverlappingInputs(nextLevel, smallest, largest) {
		if !f.BeingCompacted {
			nextAvailable = append(nextAvailable, f)
		}
	}

	// Try to grow the level-L input: pulling in every available file that
	// fits under the expanded range is free as long as it does not drag
	// more level+1 files in and the total stays within bounds.
	if len(nextAvailable) > 0 {
		allSmallest, allLargest := keyRangeOf(append(append([]*manifest.FileMetaData{}, levelFiles...), nextAvailable...))
		var expanded []*manifest.FileMetaData
		var expandedSize uint64
		for _, f := range v.OverlappingInputs(level, allSmallest, allLargest) {
			if !f.BeingCompacted {
				expanded = append(expanded, f)
				expandedSize += f.FD.FileSize
			}
		}
		expanded = addBoundaryInputs(available, expanded)
		if len(expanded) > len(levelFiles) && expandedSize < expandedInputLimit(p.targetFileSizeForLevel(nextLevel)) {
			expSmallest, expLargest := keyRangeOf(expanded)
			var nextForExpanded []*manifest.FileMetaData
			for _, f := range v.OverlappingInputs(nextLevel, expSmallest, expLargest) {
				if !f.BeingCompacted {
					nextForExpanded = append(nextForExpanded, f)
				}
			}
			if len(nextForExpanded) == len(nextAvailable) {
				levelFiles = expanded
				smallest, largest = expSmallest, expLargest
				nextAvailable = nextForExpanded
			}
		}
	}

	levelInput := &CompactionInputFiles{Level: level, Files: levelFiles}
	nextLevelInput := &CompactionInputFiles{Level: nextLevel, Files: nextAvailable}

	inputs := []*CompactionInputFiles{levelInput}
	if len(nextLevelInput.Files) > 0 {
		inputs = append(inputs, nextLevelInput)
	}

	c := NewCompaction(inputs, nextLevel)
	c.Reason = CompactionReasonLevelMaxLevelSize
	c.Score = score
	c.MaxOutputFileSize = p.targetFileSizeForLevel(nextLevel)
	p.setGrandparents(c, v, nextLevel, smallest, largest)

	// A single file with nothing to merge against moves down by edit only,
	// provided its grandparent overlap would not create oversized future
	// work.
	if len(levelFiles) == 1 && len(nextAvailable) == 0 &&
		totalFileSize(c.Grandparents) <= c.MaxGrandparentOverlapBytes {
		c.IsTrivialMove = true
	}

	return c
}

// setGrandparents records the level+2 files overlapping the compaction's
// range; output files are cut when they overlap too much of them.
func (p *LeveledCompactionPicker) setGrandparents(c *Compaction, v *version.Version, outputLevel int, smallest, largest []byte) {
	grandLevel := outputLevel + 1
	if grandLevel >= p.NumLevels {
		return
	}
	c.Grandparents = v.OverlappingInputs(grandLevel, smallest, largest)
	c.MaxGrandparentOverlapBytes = 10 * p.targetFileSizeForLevel(outputLevel)
}

// expandedInputLimit bounds how large a grown level-L input may get.
func expandedInputLimit(targetFileSize uint64) uint64 {
	return 25 * targetFileSize
}

// keyRangeOf returns the smallest and largest internal keys across files.
func keyRangeOf(files []*manifest.FileMetaData) (smallest, largest []byte) {
	for _, f := range files {
		if smallest == nil || compareKeys(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if largest == nil || compareKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}

// totalFileSize sums the on-disk sizes of files.
func totalFileSize(files []*manifest.FileMetaData) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FD.FileSize
	}
	return total
}

// addBoundaryInputs extends inputs with every candidate file whose key
// range shares a user key with the current input boundary. Repeats until
// no candidate touches the boundary any more.
func addBoundaryInputs(candidates, inputs []*manifest.FileMetaData) []*manifest.FileMetaData {
	if len(inputs) == 0 {
		return inputs
	}
	included := make(map[uint64]bool, len(inputs))
	var largest []byte
	for _, f := range inputs {
		included[f.FD.GetNumber()] = true
		if largest == nil || compareKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	for {
		grew := false
		for _, f := range candidates {
			if included[f.FD.GetNumber()] {
				continue
			}
			if sameUserKey(f.Smallest, largest) {
				included[f.FD.GetNumber()] = true
				inputs = append(inputs, f)
				if compareKeys(f.Largest, largest) > 0 {
					largest = f.Largest
				}
				grew = true
			}
		}
		if !grew {
			return inputs
		}
	}
}

// sameUserKey reports whether two internal keys carry the same user key.
func sameUserKey(a, b []byte) bool {
	if len(a) < 8 || len(b) < 8 {
		return false
	}
	return compareKeys(a[:len(a)-8], b[:len(b)-8]) == 0
}
