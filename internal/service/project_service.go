package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/project"
	"github.com/stemtranscriber/api/internal/workspace"
)

// ErrFileNotFound is returned for artifacts that do not exist.
var ErrFileNotFound = errors.New("file not found")

var (
	stemExts          = []string{".wav"}
	transcriptionExts = []string{".mid", ".midi", ".musicxml", ".xml"}

	uploadExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

// ProjectRegistry persists project metadata.
type ProjectRegistry interface {
	Create(ctx context.Context, name string) (*model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
}

// ProjectService manages projects and the files that belong to them.
type ProjectService struct {
	registry ProjectRegistry
	layout   workspace.Layout
}

func NewProjectService(registry ProjectRegistry, layout workspace.Layout) *ProjectService {
	return &ProjectService{registry: registry, layout: layout}
}

func (s *ProjectService) Create(ctx context.Context, name string) (*model.Project, error) {
	p, err := s.registry.Create(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if err := s.layout.EnsureProject(p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	return s.registry.List(ctx)
}

func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.registry.Get(ctx, id)
	if errors.Is(err, project.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

// Upload stores body as the project's source recording, replacing any
// previous one. The extension comes from filename and defaults to .wav.
func (s *ProjectService) Upload(ctx context.Context, projectID, filename string, body io.Reader) (*model.UploadResponse, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.layout.EnsureProject(projectID); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !uploadExt.MatchString(ext) {
		ext = ".wav"
	}
	dir := s.layout.UploadsDir(projectID)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	previous, _ := filepath.Glob(filepath.Join(dir, "original.*"))
	for _, p := range previous {
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("failed to remove previous upload: %w", err)
		}
	}

	name := "original" + ext
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	return &model.UploadResponse{Filename: name, Size: size}, nil
}

// Stems lists the project's separated stems.
func (s *ProjectService) Stems(ctx context.Context, projectID string) ([]model.FileItem, error) {
	return s.files(ctx, projectID, "stems", s.layout.StemsDir(projectID), stemExts)
}

// Transcriptions lists the project's MIDI and MusicXML files.
func (s *ProjectService) Transcriptions(ctx context.Context, projectID string) ([]model.FileItem, error) {
	return s.files(ctx, projectID, "transcriptions", s.layout.TranscriptionsDir(projectID), transcriptionExts)
}

// StemFile resolves a downloadable stem path.
func (s *ProjectService) StemFile(projectID, name string) (string, error) {
	return resolve(s.layout.StemsDir(projectID), projectID, name)
}

// TranscriptionFile resolves a downloadable transcription path.
func (s *ProjectService) TranscriptionFile(projectID, name string) (string, error) {
	return resolve(s.layout.TranscriptionsDir(projectID), projectID, name)
}

func (s *ProjectService) files(ctx context.Context, projectID, kind, dir string, exts []string) ([]model.FileItem, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	names, err := workspace.ListFiles(dir, exts...)
	if err != nil {
		return nil, err
	}
	items := make([]model.FileItem, 0, len(names))
	for _, n := range names {
		items = append(items, model.FileItem{
			Name: n,
			URL:  fmt.Sprintf("/files/%s/%s/%s", projectID, kind, n),
		})
	}
	return items, nil
}

func resolve(dir, projectID, name string) (string, error) {
	if !workspace.SafeName(projectID) || !workspace.SafeName(name) {
		return "", ErrFileNotFound
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrFileNotFound
	}
	return path, nil
}
