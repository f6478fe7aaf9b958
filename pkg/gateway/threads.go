package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/roamerhq/roamer/pkg/api"
)

// ThreadResponse is a thread with links for follow-up calls.
type ThreadResponse struct {
	ID        uuid.UUID         `json:"id"`
	CreatedAt string            `json:"created_at"`
	Links     map[string]string `json:"links"`
}

// jsonCreateThread handles POST requests to open a new conversation thread.
func (s *Server) jsonCreateThread(w http.ResponseWriter, req *http.Request) {
	thread, err := s.store.CreateThread(req.Context())
	if err != nil {
		log.WithError(err).Error("error creating thread")
		failureResponse(w, http.StatusInternalServerError, "Failed to create thread")
		return
	}

	log.WithField("thread_id", thread.ID).Info("thread created")
	api.RespondWithJSON(http.StatusCreated, w, threadResponse(req, thread.ID, thread.CreatedAt))
}

// jsonGetThread handles GET requests for a single thread by ID.
func (s *Server) jsonGetThread(w http.ResponseWriter, req *http.Request) {
	threadID, ok := s.threadFromRequest(w, req)
	if !ok {
		return
	}

	thread, err := s.store.GetThread(req.Context(), threadID)
	if err != nil {
		failureResponse(w, http.StatusNotFound, "Thread not found")
		return
	}

	api.RespondWithJSON(http.StatusOK, w, threadResponse(req, thread.ID, thread.CreatedAt))
}

// jsonListThreads handles GET requests for recent threads, newest first.
func (s *Server) jsonListThreads(w http.ResponseWriter, req *http.Request) {
	limit := intQueryParam(req, "limit", 50)
	offset := intQueryParam(req, "offset", 0)

	threads, err := s.store.ListThreads(req.Context(), limit, offset)
	if err != nil {
		log.WithError(err).Error("error listing threads")
		failureResponse(w, http.StatusInternalServerError, "Failed to list threads")
		return
	}

	response := make([]ThreadResponse, 0, len(threads))
	for _, thread := range threads {
		response = append(response, threadResponse(req, thread.ID, thread.CreatedAt))
	}
	api.RespondWithJSON(http.StatusOK, w, response)
}

// threadFromRequest parses and resolves the {id} path variable, writing the
// failure response itself when the ID is malformed.
func (s *Server) threadFromRequest(w http.ResponseWriter, req *http.Request) (uuid.UUID, bool) {
	idStr := mux.Vars(req)["id"]
	threadID, err := uuid.Parse(idStr)
	if err != nil {
		failureResponse(w, http.StatusBadRequest, "Invalid thread ID format")
		return uuid.Nil, false
	}
	return threadID, true
}

func threadResponse(req *http.Request, id uuid.UUID, createdAt time.Time) ThreadResponse {
	baseURL := api.GetBaseURL(req)
	return ThreadResponse{
		ID:        id,
		CreatedAt: createdAt.Format(time.RFC3339),
		Links: map[string]string{
			"self":     fmt.Sprintf("%s/api/threads/%s", baseURL, id),
			"messages": fmt.Sprintf("%s/api/messages/thread/%s", baseURL, id),
		},
	}
}

func intQueryParam(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
