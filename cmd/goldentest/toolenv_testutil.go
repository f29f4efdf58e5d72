package main

import (
	"os"
	"strings"
)

// toolEnv builds the environment for a reference tool (ldb/sst_dump): the
// tool directory goes on the dynamic-linker path, plus an optional extra
// library directory from ROCKSDB_DEPS_LIBDIR for the tool's compression
// dylibs (snappy, lz4, zstd) when they are not in a default search path.
func toolEnv(toolDir string) []string {
	env := os.Environ()

	depsDir := strings.TrimSpace(os.Getenv("ROCKSDB_DEPS_LIBDIR"))

	if toolDir != "" {
		env = append(env,
			"DYLD_LIBRARY_PATH="+joinPathList(toolDir, depsDir, os.Getenv("DYLD_LIBRARY_PATH")),
			"LD_LIBRARY_PATH="+joinPathList(toolDir, depsDir, os.Getenv("LD_LIBRARY_PATH")),
		)
	}

	return env
}

func joinPathList(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ":")
}
