package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/roamerhq/roamer/pkg/api"
	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/db/models"
	"github.com/roamerhq/roamer/pkg/store"
)

// MessageResponse is the API view of a stored message. ID doubles as the
// polling cursor: IDs are assigned in insertion order, so a client that
// remembers the largest ID it has seen can ask for everything after it.
type MessageResponse struct {
	ID              uint              `json:"id"`
	ThreadID        uuid.UUID         `json:"thread_id"`
	Role            string            `json:"role"`
	Content         v1.MessageContent `json:"content"`
	RequestID       *string           `json:"request_id,omitempty"`
	SourceMessageID *uint             `json:"source_message_id,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

// CreateMessageRequest is the payload for appending a plain message to a
// thread without queueing any planning work.
type CreateMessageRequest struct {
	ThreadID uuid.UUID `json:"thread_id"`
	Role     string    `json:"role"`
	Content  string    `json:"content"`
}

// jsonCreateMessage handles POST requests to append a message to a thread.
func (s *Server) jsonCreateMessage(w http.ResponseWriter, req *http.Request) {
	var request CreateMessageRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		failureResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if request.ThreadID == uuid.Nil {
		failureResponse(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	if request.Role != v1.RoleUser && request.Role != v1.RoleAssistant {
		failureResponse(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if request.Content == "" {
		failureResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := s.store.GetThread(req.Context(), request.ThreadID); err != nil {
		failureResponse(w, http.StatusNotFound, "Thread not found")
		return
	}

	msg, err := s.store.CreateMessage(req.Context(), store.NewMessage{
		ThreadID: request.ThreadID,
		Role:     request.Role,
		Content:  v1.TextContent(request.Content),
	})
	if err != nil {
		log.WithError(err).Error("error creating message")
		failureResponse(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	api.RespondWithJSON(http.StatusCreated, w, messageResponse(msg))
}

// jsonListMessages handles GET requests for a thread's messages in cursor
// order. The optional "after" query parameter is an exclusive message ID
// cursor; "limit" caps the page size.
func (s *Server) jsonListMessages(w http.ResponseWriter, req *http.Request) {
	threadID, ok := s.threadFromRequest(w, req)
	if !ok {
		return
	}
	if _, err := s.store.GetThread(req.Context(), threadID); err != nil {
		failureResponse(w, http.StatusNotFound, "Thread not found")
		return
	}

	after := intQueryParam(req, "after", 0)
	limit := intQueryParam(req, "limit", 100)

	messages, err := s.store.GetMessagesAfter(req.Context(), threadID, uint(after), limit)
	if err != nil {
		log.WithError(err).Error("error listing messages")
		failureResponse(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		response = append(response, messageResponse(&messages[i]))
	}
	api.RespondWithJSON(http.StatusOK, w, response)
}

func messageResponse(msg *models.Message) MessageResponse {
	content, err := store.DecodeContent(msg)
	if err != nil {
		log.WithError(err).WithField("message_id", msg.ID).Error("undecodable message content")
		content = v1.TextContent("")
	}
	return MessageResponse{
		ID:              msg.ID,
		ThreadID:        msg.ThreadID,
		Role:            msg.Role,
		Content:         content,
		RequestID:       msg.RequestID,
		SourceMessageID: msg.SourceMessageID,
		CreatedAt:       msg.CreatedAt.Format(time.RFC3339),
	}
}
