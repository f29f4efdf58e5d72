package ember

// Helpers shared by tests that inspect table files on disk. Tables are
// written as .ldb; the legacy .sst spelling is still recognized.

import "path/filepath"

func isTableExt(ext string) bool {
	return ext == ".ldb" || ext == ".sst"
}

func globTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.ldb"))
	if err != nil {
		return nil, err
	}
	legacy, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	if err != nil {
		return nil, err
	}
	return append(files, legacy...), nil
}
