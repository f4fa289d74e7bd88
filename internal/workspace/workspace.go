package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Layout resolves every on-disk location under the data directory.
//
//	<data>/projects/<id>/uploads/original.<ext>
//	<data>/projects/<id>/stems/{bass,drums,other,vocals}.wav
//	<data>/projects/<id>/transcriptions/<stem>.{mid,musicxml}
//	<data>/tmp_separation/<id>/<job>/
type Layout struct {
	DataDir string
}

func New(dataDir string) Layout {
	return Layout{DataDir: dataDir}
}

// Path helpers
func (l Layout) ProjectDir(projectID string) string {
	return filepath.Join(l.DataDir, "projects", projectID)
}
func (l Layout) UploadsDir(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), "uploads")
}
func (l Layout) StemsDir(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), "stems")
}
func (l Layout) TranscriptionsDir(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), "transcriptions")
}
func (l Layout) ScratchDir(projectID, jobID string) string {
	return filepath.Join(l.DataDir, "tmp_separation", projectID, jobID)
}
func (l Layout) StemPath(projectID, stemName string) string {
	return filepath.Join(l.StemsDir(projectID), stemName)
}

// TranscriptionPaths returns the MIDI and MusicXML outputs derived from a stem.
func (l Layout) TranscriptionPaths(projectID, stemName string) (midiPath, xmlPath string) {
	base := strings.TrimSuffix(stemName, filepath.Ext(stemName))
	dir := l.TranscriptionsDir(projectID)
	return filepath.Join(dir, base+".mid"), filepath.Join(dir, base+".musicxml")
}

// EnsureProject creates the project directory tree.
func (l Layout) EnsureProject(projectID string) error {
	for _, dir := range []string{l.UploadsDir(projectID), l.StemsDir(projectID), l.TranscriptionsDir(projectID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create project dir: %w", err)
		}
	}
	return nil
}

// FindOriginal returns the uploaded source file ("original.*"), picking the
// first match in name order when several exist.
func (l Layout) FindOriginal(projectID string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(l.UploadsDir(projectID), "original.*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, true
		}
	}
	return "", false
}

// ListFiles returns regular file names in dir whose extension is in exts,
// sorted by name. A missing directory yields an empty list.
func ListFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == want {
				names = append(names, e.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// SafeName reports whether name is a plain file name that cannot escape its
// directory.
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
