package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayout_Paths(t *testing.T) {
	l := New("/data")

	if got := l.StemPath("p1", "bass.wav"); got != "/data/projects/p1/stems/bass.wav" {
		t.Errorf("unexpected stem path %s", got)
	}
	if got := l.ScratchDir("p1", "j1"); got != "/data/tmp_separation/p1/j1" {
		t.Errorf("unexpected scratch dir %s", got)
	}
	mid, xml := l.TranscriptionPaths("p1", "bass.wav")
	if mid != "/data/projects/p1/transcriptions/bass.mid" || xml != "/data/projects/p1/transcriptions/bass.musicxml" {
		t.Errorf("unexpected transcription paths %s %s", mid, xml)
	}
}

func TestLayout_FindOriginal(t *testing.T) {
	l := New(t.TempDir())
	if err := l.EnsureProject("p1"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l.FindOriginal("p1"); ok {
		t.Fatal("expected no original in an empty project")
	}

	for _, name := range []string{"original.wav", "original.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(l.UploadsDir("p1"), name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, ok := l.FindOriginal("p1")
	if !ok {
		t.Fatal("expected original to be found")
	}
	if filepath.Base(got) != "original.mp3" {
		t.Errorf("expected first match in name order, got %s", got)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mid", "a.MusicXML", "c.txt", "d.xml"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	_ = os.Mkdir(filepath.Join(dir, "sub.mid"), 0o755)

	got, err := ListFiles(dir, ".mid", ".midi", ".musicxml", ".xml")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.MusicXML", "b.mid", "d.xml"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}

	missing, err := ListFiles(filepath.Join(dir, "nope"), ".wav")
	if err != nil || len(missing) != 0 {
		t.Errorf("expected empty list for missing dir, got %v, %v", missing, err)
	}
}

func TestSafeName(t *testing.T) {
	for name, want := range map[string]bool{
		"bass.wav":       true,
		"":               false,
		"..":             false,
		"../etc/passwd":  false,
		"a/b.wav":        false,
		`..\secret.wav`:  false,
		"original.flac":  true,
	} {
		if got := SafeName(name); got != want {
			t.Errorf("SafeName(%q) = %v, want %v", name, got, want)
		}
	}
}
