/*
Package ember provides a pure-Go embedded durable key/value store built
on an LSM tree, in the LevelDB/RocksDB lineage.

EmberDB uses the block-based SST table format, a write-ahead log, and a
MANIFEST of version edits to provide an LSM-tree storage engine suitable
for high-write workloads, with an API and feature set modeled on that
lineage: column families, a merge operator, compaction filters, and
range deletions.

# Usage

For runnable examples, see the repository's examples directory. The examples
are written against the public API and are kept up-to-date as the API evolves.

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Individual
Iterator instances are not safe for concurrent use; each goroutine should
use its own iterator.

# Compatibility

SST files use the classic block-based table format (FormatVersion 0) by
default, the same on-disk layout used across the LevelDB/RocksDB lineage.
Opting a table builder into FormatVersion 6 produces the newer
context-checksum footer layout instead.
*/
package ember
