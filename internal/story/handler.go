package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"storyboard/internal/story/model"
	"storyboard/internal/story/service"
	"storyboard/middleware"
	"storyboard/pkg/logger"
)

// StoryHandler exposes the story store over REST.
type StoryHandler struct {
	Store service.Store
	// OnChange runs after a successful write so open sessions can refresh.
	OnChange func(userID string)
}

func NewStoryHandler(store service.Store, onChange func(userID string)) *StoryHandler {
	return &StoryHandler{Store: store, OnChange: onChange}
}

func (h *StoryHandler) changed(userID string) {
	if h.OnChange != nil {
		h.OnChange(userID)
	}
}

// writeError maps store failures to status codes. Not-found and not-owned
// share 404.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "Story not found", http.StatusNotFound)
	case errors.Is(err, model.ErrBackendUnavailable):
		http.Error(w, "Story backend unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrReadOnly):
		http.Error(w, "Story is read-only", http.StatusForbidden)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}

func storyID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("storyId")
	if id == "" {
		http.Error(w, "Missing storyId parameter", http.StatusBadRequest)
		return "", false
	}
	if model.IsDemo(id) && r.Method != http.MethodGet {
		http.Error(w, "Story is read-only", http.StatusForbidden)
		return "", false
	}
	return id, true
}

func (h *StoryHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.UserID(r.Context())

	stories, err := h.Store.List(r.Context(), userID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching stories: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stories)
}

func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.UserID(r.Context())

	var req model.SaveStoryRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Ignore error, default to empty

	story, err := h.Store.Create(r.Context(), req.Title, req.Project, req.Blocks, userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create story: %v", err)
		writeError(w, err)
		return
	}

	h.changed(userID)
	writeJSON(w, http.StatusCreated, story)
}

func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := storyID(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	story, err := h.Store.Get(r.Context(), id, userID)
	if err != nil {
		logger.Sugar.Infof("Handler: Failed to get story %s: %v", id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, story)
}

func (h *StoryHandler) UpdateStory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := storyID(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	var req model.SaveStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	story, err := h.Store.Update(r.Context(), id, req.Title, req.Project, req.Blocks, userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to update story %s: %v", id, err)
		writeError(w, err)
		return
	}

	h.changed(userID)
	writeJSON(w, http.StatusOK, story)
}

func (h *StoryHandler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := storyID(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	if err := h.Store.Delete(r.Context(), id, userID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete story %s: %v", id, err)
		writeError(w, err)
		return
	}

	h.changed(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoryHandler) DuplicateStory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := storyID(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	story, err := h.Store.Duplicate(r.Context(), id, userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to duplicate story %s: %v", id, err)
		writeError(w, err)
		return
	}

	h.changed(userID)
	writeJSON(w, http.StatusCreated, model.StoryIDResponse{StoryID: story.ID})
}
