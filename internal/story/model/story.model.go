package model

import (
	"encoding/json"
	"time"
)

const (
	DefaultTitle = "Untitled Story"
	CopySuffix   = " (Copy)"

	DemoID    = "__demo__"
	DemoTitle = "Demo Story"
)

// DemoUpdatedAt is the fixed display timestamp of the bundled demo.
var DemoUpdatedAt = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type Story struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Project   string            `json:"project"`
	Blocks    []json.RawMessage `json:"blocks"`
	UserID    string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StoryListEntry is the selector projection of a Story, without blocks.
type StoryListEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ReadOnly  bool      `json:"read_only,omitempty"`
}

// Entry projects s for list views.
func (s *Story) Entry() StoryListEntry {
	return StoryListEntry{
		ID:        s.ID,
		Title:     s.Title,
		Project:   s.Project,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Document converts s to the editor payload.
func (s *Story) Document() Document {
	return Document{PageTitle: s.Title, Project: s.Project, Blocks: s.Blocks}
}

// DemoEntry is the synthetic, always-available list entry for the bundled demo.
func DemoEntry() StoryListEntry {
	return StoryListEntry{
		ID:        DemoID,
		Title:     DemoTitle,
		CreatedAt: DemoUpdatedAt,
		UpdatedAt: DemoUpdatedAt,
		ReadOnly:  true,
	}
}

// IsDemo reports whether id is the demo sentinel.
func IsDemo(id string) bool {
	return id == DemoID
}

// Document is what the editor loads and hands back on save.
type Document struct {
	PageTitle string            `json:"pageTitle"`
	Project   string            `json:"project"`
	Blocks    []json.RawMessage `json:"blocks"`
}

// Gallery is the one block type the bundled editors know how to build.
type Gallery struct {
	Type  string   `json:"type"`
	Media []string `json:"media"`
}

const GalleryType = "gallery"

// REST payloads.

type SaveStoryRequest struct {
	Title   string            `json:"title"`
	Project string            `json:"project"`
	Blocks  []json.RawMessage `json:"blocks"`
}

type StoryIDResponse struct {
	StoryID string `json:"story_id"`
}
