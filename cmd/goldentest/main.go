// goldentest cross-checks this engine's on-disk formats against the C++
// reference tools (ldb, sst_dump). Each check writes files with one side
// and reads them back with the other.
//
// Usage:
//
//	goldentest -fixtures=testdata/golden -ldb=/path/to/ldb -sst-dump=/path/to/sst_dump
//
// Checks that need a missing tool or fixture are skipped, not failed, so
// the tool stays useful on machines without the reference build.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var (
	fixtureDir  = flag.String("fixtures", "", "Directory holding reference-written fixtures (db/, sst/, wal/, manifest/)")
	outputDir   = flag.String("out", "", "Scratch directory for files this tool generates (default: temp dir)")
	ldbPath     = flag.String("ldb", "", "Path to the reference ldb binary")
	sstDumpPath = flag.String("sst-dump", "", "Path to the reference sst_dump binary")
	verbose     = flag.Bool("v", false, "Verbose output")
)

// runLdb invokes the reference ldb binary and returns its combined output.
func runLdb(args ...string) (string, error) {
	return runTool(*ldbPath, args...)
}

// runSstDump invokes the reference sst_dump binary and returns its combined output.
func runSstDump(args ...string) (string, error) {
	return runTool(*sstDumpPath, args...)
}

func runTool(tool string, args ...string) (string, error) {
	if tool == "" {
		return "", fmt.Errorf("reference tool not configured")
	}
	cmd := exec.Command(tool, args...)
	cmd.Env = toolEnv(filepath.Dir(tool))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %v: %w\n%s", filepath.Base(tool), args, err, out)
	}
	return string(out), nil
}

type check struct {
	name string
	run  func() error
}

func main() {
	flag.Parse()

	if *outputDir == "" {
		dir, err := os.MkdirTemp("", "goldentest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "goldentest: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		*outputDir = dir
	}

	checks := []check{
		{"compression/raw-deflate", verifyRawDeflateCompatible},
		{"sst/go-generates", verifyGoGeneratesSST},
		{"wal/go-generates", verifyGoGeneratesWAL},
		{"manifest/unknown-tags-preserved", verifyManifestUnknownTagsPreserved},
		{"manifest/corruption-rejected", verifyManifestCorruptionRejected},
		{"db/cpp-opens-go-database", verifyCppOpensGoDatabase},
	}
	if *fixtureDir != "" {
		checks = append(checks,
			check{"db/go-opens-cpp-database", func() error {
				return verifyGoOpensDatabase(filepath.Join(*fixtureDir, "db"))
			}},
			check{"sst/go-reads-cpp-database", func() error {
				return verifyGoReadsSST(filepath.Join(*fixtureDir, "db"))
			}},
			check{"manifest/go-reads-cpp-manifest", func() error {
				return verifyGoReadsManifest(filepath.Join(*fixtureDir, "manifest", "MANIFEST-000001"))
			}},
		)
	}

	failed := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", c.name, err)
			continue
		}
		fmt.Printf("ok   %s\n", c.name)
	}
	if failed > 0 {
		fmt.Printf("%d of %d checks failed\n", failed, len(checks))
		os.Exit(1)
	}
}
