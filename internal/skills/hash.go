package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// HashFiles computes the content hash of a file set: files sorted by
// relative path, SHA-256 over each (path || content), chained into one
// digest. The same file bytes always produce the same hash regardless of
// map iteration order.
func HashFiles(files map[string][]byte) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write(files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReadTree loads every regular file under dir, keyed by slash-separated
// relative path.
func ReadTree(dir string) (map[string][]byte, error) {
	files := map[string][]byte{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// HashTree computes HashFiles over the on-disk tree rooted at dir.
func HashTree(dir string) (string, error) {
	files, err := ReadTree(dir)
	if err != nil {
		return "", err
	}
	return HashFiles(files), nil
}

// FileHashes returns the per-file SHA-256 of every regular file under
// dir, keyed by slash-separated relative path.
func FileHashes(dir string) (map[string]string, error) {
	files, err := ReadTree(dir)
	if err != nil {
		return nil, err
	}
	return HashFileSet(files), nil
}

// HashFileSet returns the per-file SHA-256 of an in-memory file set.
func HashFileSet(files map[string][]byte) map[string]string {
	out := make(map[string]string, len(files))
	for p, content := range files {
		sum := sha256.Sum256(content)
		out[p] = hex.EncodeToString(sum[:])
	}
	return out
}

// MaxMtime returns the newest modification time of any entry under dir,
// including directories. Used by the watcher's mtime cache to skip
// re-hashing unchanged trees.
func MaxMtime(dir string) (time.Time, error) {
	var max time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(max) {
			max = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return max, nil
}
