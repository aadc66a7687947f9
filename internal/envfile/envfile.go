// Package envfile edits dotenv files in place.
//
// Set rewrites only the lines that define the key. Comments, ordering,
// quoting and $VAR references elsewhere in the file are left byte for byte.
package envfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Set writes key=value into the dotenv file at path, keeping every other line.
// The file and its parent directory are created when missing.
func Set(path, key, value string) error {
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("format env line: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read env file: %w", err)
	}

	var lines []string
	if content := strings.TrimSuffix(string(data), "\n"); content != "" {
		lines = strings.Split(content, "\n")
	}

	replaced := false
	for i, l := range lines {
		if definesKey(l, key) {
			lines[i] = line
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, line)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}
	return writeAtomic(path, []byte(strings.Join(lines, "\n")+"\n"))
}

// definesKey reports whether l assigns key, with or without "export".
func definesKey(l, key string) bool {
	l = strings.TrimSpace(l)
	if strings.HasPrefix(l, "#") {
		return false
	}
	l = strings.TrimPrefix(l, "export ")
	name, _, ok := strings.Cut(l, "=")
	return ok && strings.TrimSpace(name) == key
}

func writeAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".env-*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write env file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close env file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace env file: %w", err)
	}
	return nil
}
