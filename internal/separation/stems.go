package separation

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stemtranscriber/api/internal/model"
)

// FindStemFolder picks the directory under root that looks most like a
// complete separation result: among directories holding bass.wav, the one
// with the most canonical stems wins, ties going to the smallest path.
func FindStemFolder(root string) (string, bool) {
	best := ""
	bestScore := -1

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != model.StemBass {
			return nil
		}

		dir := filepath.Dir(path)
		score := 0
		for _, stem := range model.CanonicalStems {
			if isRegular(filepath.Join(dir, stem)) {
				score++
			}
		}

		if score > bestScore || (score == bestScore && dir < best) {
			best = dir
			bestScore = score
		}
		return nil
	})

	return best, bestScore >= 0
}

// CopyStems copies the canonical stems present in srcDir into dstDir,
// replacing older copies. It returns the destination paths written.
func CopyStems(srcDir, dstDir string) ([]string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stems dir: %w", err)
	}

	var copied []string
	for _, stem := range model.CanonicalStems {
		src := filepath.Join(srcDir, stem)
		if !isRegular(src) {
			continue
		}
		dst := filepath.Join(dstDir, stem)
		if err := copyFile(src, dst); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", stem, err)
		}
		copied = append(copied, dst)
	}
	return copied, nil
}

// ListTree returns paths under root relative to it, at most maxDepth levels deep.
func ListTree(root string, maxDepth int) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
