package model

import "time"

// Project groups one uploaded recording with its stems and transcriptions
type Project struct {
	ID        string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateProjectRequest represents the request to create a project
type CreateProjectRequest struct {
	Name string `json:"name" validate:"omitempty,max=200"`
}

// ListProjectsResponse lists all known projects
type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
}

// UploadResponse is returned after the source recording has been stored
type UploadResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// FileItem is a downloadable project artifact
type FileItem struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
