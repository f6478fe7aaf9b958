package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/roamerhq/roamer/pkg/api"
	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/db/models"
	"github.com/roamerhq/roamer/pkg/store"
)

// SubmitTripPlanRequest is the payload for submitting a trip-planning
// request. RequestID is a client-chosen idempotency token: resubmitting with
// the same token after a timeout or error cannot create duplicate work.
type SubmitTripPlanRequest struct {
	ThreadID    uuid.UUID      `json:"thread_id"`
	RequestID   string         `json:"request_id"`
	Content     string         `json:"content"`
	Constraints v1.Constraints `json:"constraints"`
}

// SubmitTripPlanResponse acknowledges acceptance; the plan itself arrives
// later as an assistant message discovered by polling.
type SubmitTripPlanResponse struct {
	Accepted  bool      `json:"accepted"`
	RequestID string    `json:"request_id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	MessageID uint      `json:"message_id"`
}

// LatestTripResponse is the polling result. Status is "ok" when a message is
// present and "no_new_message" when nothing newer than the cursor exists yet.
type LatestTripResponse struct {
	Status  string           `json:"status"`
	Message *MessageResponse `json:"message,omitempty"`
}

// jsonSubmitTripPlan handles POST requests to submit a planning job. The user
// message row is written first, then the job is enqueued; only after both
// does the 202 go out. A duplicate request_id returns the original message ID
// and re-enqueues the job (the queue's dedup makes that harmless), so clients
// can retry a submission that timed out mid-flight.
func (s *Server) jsonSubmitTripPlan(w http.ResponseWriter, req *http.Request) {
	var request SubmitTripPlanRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		failureResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if request.ThreadID == uuid.Nil {
		failureResponse(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	if request.RequestID == "" {
		failureResponse(w, http.StatusBadRequest, "request_id is required")
		return
	}
	if strings.TrimSpace(request.Content) == "" {
		failureResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := s.store.GetThread(req.Context(), request.ThreadID); err != nil {
		failureResponse(w, http.StatusNotFound, "Thread not found")
		return
	}

	logger := log.WithFields(log.Fields{
		"thread_id":  request.ThreadID,
		"request_id": request.RequestID,
	})

	msg, err := s.store.MessageByRequestID(req.Context(), request.ThreadID, request.RequestID)
	switch {
	case err == nil:
		logger.WithField("message_id", msg.ID).Info("duplicate trip submission")
		tripSubmissions.WithLabelValues("duplicate").Inc()
		// If the reply already landed there is nothing left to do; otherwise
		// re-enqueue in case the original submission died between the insert
		// and the enqueue. The queue dedups on (thread_id, request_id) so at
		// most one job exists either way.
		if _, replyErr := s.store.AssistantReplyFor(req.Context(), request.ThreadID, msg.ID); replyErr == nil {
			api.RespondWithJSON(http.StatusAccepted, w, acceptedResponse(&request, msg.ID))
			return
		}
		if err := s.enqueueTripJob(req, &request, msg); err != nil {
			logger.WithError(err).Error("error re-enqueueing trip job")
			failureResponse(w, http.StatusServiceUnavailable, "Queue unavailable, retry with the same request_id")
			return
		}
		api.RespondWithJSON(http.StatusAccepted, w, acceptedResponse(&request, msg.ID))
		return
	case !errors.Is(err, store.ErrNotFound):
		logger.WithError(err).Error("error checking for duplicate submission")
		failureResponse(w, http.StatusInternalServerError, "Failed to process submission")
		return
	}

	msg, err = s.store.CreateMessage(req.Context(), store.NewMessage{
		ThreadID:  request.ThreadID,
		Role:      v1.RoleUser,
		Content:   v1.TextContent(request.Content),
		RequestID: request.RequestID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent retry of the same submission.
		msg, err = s.store.MessageByRequestID(req.Context(), request.ThreadID, request.RequestID)
	}
	if err != nil {
		logger.WithError(err).Error("error persisting trip request")
		tripSubmissions.WithLabelValues("error").Inc()
		failureResponse(w, http.StatusInternalServerError, "Failed to save trip request")
		return
	}

	if err := s.enqueueTripJob(req, &request, msg); err != nil {
		// The user message stays; a retry with the same request_id takes the
		// duplicate path above and enqueues then.
		logger.WithError(err).Error("error enqueueing trip job")
		tripSubmissions.WithLabelValues("queue_error").Inc()
		failureResponse(w, http.StatusServiceUnavailable, "Queue unavailable, retry with the same request_id")
		return
	}

	logger.WithField("message_id", msg.ID).Info("trip submission accepted")
	tripSubmissions.WithLabelValues("accepted").Inc()
	api.RespondWithJSON(http.StatusAccepted, w, acceptedResponse(&request, msg.ID))
}

func (s *Server) enqueueTripJob(req *http.Request, request *SubmitTripPlanRequest, msg *models.Message) error {
	return s.queue.Enqueue(req.Context(), &v1.Job{
		RequestID:   request.RequestID,
		ThreadID:    request.ThreadID.String(),
		MessageID:   msg.ID,
		Constraints: request.Constraints,
		Content:     request.Content,
		EnqueuedAt:  time.Now().UTC(),
	})
}

func acceptedResponse(request *SubmitTripPlanRequest, messageID uint) SubmitTripPlanResponse {
	return SubmitTripPlanResponse{
		Accepted:  true,
		RequestID: request.RequestID,
		ThreadID:  request.ThreadID,
		MessageID: messageID,
	}
}

// jsonLatestTrip handles GET polling requests. With an after_message_id
// cursor it returns the oldest assistant message past the cursor, so a client
// that polls repeatedly sees every reply exactly once and in order; without
// one it returns the newest assistant message in the thread.
func (s *Server) jsonLatestTrip(w http.ResponseWriter, req *http.Request) {
	threadIDStr := req.URL.Query().Get("thread_id")
	threadID, err := uuid.Parse(threadIDStr)
	if err != nil {
		failureResponse(w, http.StatusBadRequest, "Invalid thread_id")
		return
	}
	if _, err := s.store.GetThread(req.Context(), threadID); err != nil {
		failureResponse(w, http.StatusNotFound, "Thread not found")
		return
	}

	cursor := intQueryParam(req, "after_message_id", -1)
	if cursor < 0 {
		// cursor is accepted as a shorthand alias.
		cursor = intQueryParam(req, "cursor", -1)
	}

	var msg *models.Message
	if cursor >= 0 {
		msg, err = s.store.FirstAssistantAfter(req.Context(), threadID, uint(cursor))
	} else {
		msg, err = s.store.LatestAssistantMessage(req.Context(), threadID)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.RespondWithJSON(http.StatusOK, w, LatestTripResponse{Status: "no_new_message"})
		return
	case err != nil:
		log.WithError(err).Error("error polling for assistant message")
		failureResponse(w, http.StatusInternalServerError, "Failed to poll for messages")
		return
	}

	response := messageResponse(msg)
	api.RespondWithJSON(http.StatusOK, w, LatestTripResponse{Status: "ok", Message: &response})
}
