package router

import (
	"net/http"

	storyHandler "storyboard/internal/story"
	"storyboard/internal/story/demo"
	"storyboard/internal/story/service"
	"storyboard/middleware"
	"storyboard/socket"
)

func Setup(store service.Store, hub *socket.Hub, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, w, r, middleware.UserID(r.Context()))
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	stories := storyHandler.NewStoryHandler(store, hub.ListChanged)

	mux.Handle("/api/stories/create", auth(http.HandlerFunc(stories.CreateStory)))
	mux.Handle("/api/stories/get", auth(http.HandlerFunc(stories.GetStory)))
	mux.Handle("/api/stories/update", auth(http.HandlerFunc(stories.UpdateStory)))
	mux.Handle("/api/stories/delete", auth(http.HandlerFunc(stories.DeleteStory)))
	mux.Handle("/api/stories/duplicate", auth(http.HandlerFunc(stories.DuplicateStory)))
	mux.Handle("/api/stories", auth(http.HandlerFunc(stories.ListStories)))

	// Bundled demo, public
	mux.Handle("/projects/", http.FileServer(http.FS(demo.Bundle())))

	return middleware.CORSMiddleware(mux)
}
