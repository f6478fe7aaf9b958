package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/queue"
	"github.com/roamerhq/roamer/pkg/store"
)

// fakeQueue records enqueues and dedups on (thread_id, request_id) the way
// the real backends do.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*v1.Job
	seen       map[string]bool
	calls      int
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{seen: map[string]bool{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, job *v1.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls++
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	key := job.ThreadID + ":" + job.RequestID
	if q.seen[key] {
		return nil
	}
	q.seen[key] = true
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context) (queue.Delivery, error) {
	return nil, queue.ErrClosed
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) queued() []*v1.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*v1.Job{}, q.jobs...)
}

func (q *fakeQueue) enqueueCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *fakeQueue) {
	t.Helper()
	memStore := store.NewMemory()
	jobQueue := newFakeQueue()
	ts := httptest.NewServer(NewServer("", memStore, jobQueue).Handler())
	t.Cleanup(ts.Close)
	return ts, memStore, jobQueue
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createThread(t *testing.T, ts *httptest.Server) uuid.UUID {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/threads", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var thread ThreadResponse
	decodeBody(t, resp, &thread)
	require.NotEqual(t, uuid.Nil, thread.ID)
	return thread.ID
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndGetThread(t *testing.T) {
	ts, _, _ := newTestServer(t)
	threadID := createThread(t, ts)

	resp, err := http.Get(fmt.Sprintf("%s/api/threads/%s", ts.URL, threadID))
	require.NoError(t, err)
	var thread ThreadResponse
	decodeBody(t, resp, &thread)
	assert.Equal(t, threadID, thread.ID)
	assert.Contains(t, thread.Links["messages"], threadID.String())

	resp, err = http.Get(fmt.Sprintf("%s/api/threads/%s", ts.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitTripPlan(t *testing.T) {
	ts, _, jobQueue := newTestServer(t)
	threadID := createThread(t, ts)

	resp := postJSON(t, ts.URL+"/api/trip/plan", SubmitTripPlanRequest{
		ThreadID:  threadID,
		RequestID: "req-1",
		Content:   "5 day trek in the Sierra",
		Constraints: v1.Constraints{
			TripTypes:   []string{"TREKKING"},
			Difficulty:  "MODERATE",
			BudgetLevel: "USD_500_1500",
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted SubmitTripPlanResponse
	decodeBody(t, resp, &accepted)
	assert.True(t, accepted.Accepted)
	assert.Equal(t, "req-1", accepted.RequestID)
	assert.NotZero(t, accepted.MessageID)

	jobs := jobQueue.queued()
	require.Len(t, jobs, 1)
	assert.Equal(t, threadID.String(), jobs[0].ThreadID)
	assert.Equal(t, accepted.MessageID, jobs[0].MessageID)
	assert.Equal(t, "5 day trek in the Sierra", jobs[0].Content)
	assert.Equal(t, []string{"TREKKING"}, jobs[0].Constraints.TripTypes)
}

func TestSubmitTripPlanValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)
	threadID := createThread(t, ts)

	tests := []struct {
		name     string
		request  SubmitTripPlanRequest
		wantCode int
	}{
		{
			name:     "missing request id",
			request:  SubmitTripPlanRequest{ThreadID: threadID, Content: "plan a trip"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty content",
			request:  SubmitTripPlanRequest{ThreadID: threadID, RequestID: "req-2", Content: "   "},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing thread id",
			request:  SubmitTripPlanRequest{RequestID: "req-3", Content: "plan a trip"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown thread",
			request:  SubmitTripPlanRequest{ThreadID: uuid.New(), RequestID: "req-4", Content: "plan a trip"},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/trip/plan", tc.request)
			resp.Body.Close()
			assert.Equal(t, tc.wantCode, resp.StatusCode)
		})
	}
}

func TestSubmitTripPlanIdempotent(t *testing.T) {
	ts, _, jobQueue := newTestServer(t)
	threadID := createThread(t, ts)

	request := SubmitTripPlanRequest{ThreadID: threadID, RequestID: "req-1", Content: "plan a trip"}

	resp := postJSON(t, ts.URL+"/api/trip/plan", request)
	var first SubmitTripPlanResponse
	decodeBody(t, resp, &first)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Same request_id again: same message, no second job.
	resp = postJSON(t, ts.URL+"/api/trip/plan", request)
	var second SubmitTripPlanResponse
	decodeBody(t, resp, &second)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, jobQueue.queued(), 1)

	// A different request_id in the same thread is new work.
	request.RequestID = "req-2"
	resp = postJSON(t, ts.URL+"/api/trip/plan", request)
	var third SubmitTripPlanResponse
	decodeBody(t, resp, &third)
	assert.NotEqual(t, first.MessageID, third.MessageID)
	assert.Len(t, jobQueue.queued(), 2)
}

func TestSubmitTripPlanDuplicateAfterReplySkipsQueue(t *testing.T) {
	ts, memStore, jobQueue := newTestServer(t)
	threadID := createThread(t, ts)

	request := SubmitTripPlanRequest{ThreadID: threadID, RequestID: "req-1", Content: "plan a trip"}
	resp := postJSON(t, ts.URL+"/api/trip/plan", request)
	var accepted SubmitTripPlanResponse
	decodeBody(t, resp, &accepted)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, err := memStore.CreateMessage(context.Background(), store.NewMessage{
		ThreadID:        threadID,
		Role:            v1.RoleAssistant,
		Content:         v1.TextContent("here is your plan"),
		SourceMessageID: &accepted.MessageID,
	})
	require.NoError(t, err)

	// The job is done; a late duplicate must not touch the queue at all.
	before := jobQueue.enqueueCalls()
	resp = postJSON(t, ts.URL+"/api/trip/plan", request)
	var second SubmitTripPlanResponse
	decodeBody(t, resp, &second)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, accepted.MessageID, second.MessageID)
	assert.Equal(t, before, jobQueue.enqueueCalls())
}

func TestSubmitTripPlanQueueDown(t *testing.T) {
	ts, memStore, jobQueue := newTestServer(t)
	threadID := createThread(t, ts)
	jobQueue.enqueueErr = fmt.Errorf("connection refused")

	request := SubmitTripPlanRequest{ThreadID: threadID, RequestID: "req-1", Content: "plan a trip"}
	resp := postJSON(t, ts.URL+"/api/trip/plan", request)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// The user message survived the queue failure.
	msg, err := memStore.MessageByRequestID(context.Background(), threadID, "req-1")
	require.NoError(t, err)

	// Retrying with the same request_id once the queue is back succeeds and
	// reuses the original message.
	jobQueue.enqueueErr = nil
	resp = postJSON(t, ts.URL+"/api/trip/plan", request)
	var accepted SubmitTripPlanResponse
	decodeBody(t, resp, &accepted)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, msg.ID, accepted.MessageID)
	assert.Len(t, jobQueue.queued(), 1)
}

func TestLatestTripPolling(t *testing.T) {
	ts, memStore, _ := newTestServer(t)
	threadID := createThread(t, ts)

	pollURL := func(cursor int) string {
		url := fmt.Sprintf("%s/api/trip/latest?thread_id=%s", ts.URL, threadID)
		if cursor >= 0 {
			url += fmt.Sprintf("&after_message_id=%d", cursor)
		}
		return url
	}

	// Nothing yet.
	resp, err := http.Get(pollURL(-1))
	require.NoError(t, err)
	var poll LatestTripResponse
	decodeBody(t, resp, &poll)
	assert.Equal(t, "no_new_message", poll.Status)

	// Simulate the worker: a user message then its assistant reply.
	userMsg, err := memStore.CreateMessage(context.Background(), store.NewMessage{
		ThreadID:  threadID,
		Role:      v1.RoleUser,
		Content:   v1.TextContent("plan a trip"),
		RequestID: "req-1",
	})
	require.NoError(t, err)

	reply1, err := memStore.CreateMessage(context.Background(), store.NewMessage{
		ThreadID:        threadID,
		Role:            v1.RoleAssistant,
		Content:         v1.PlanContent(&v1.TripPlan{Destination: "California", Days: 1, Itinerary: []v1.DayPlan{{Day: 1, Title: "Day 1"}}}),
		SourceMessageID: &userMsg.ID,
	})
	require.NoError(t, err)

	// Cursor at the user message picks up the reply.
	resp, err = http.Get(pollURL(int(userMsg.ID)))
	require.NoError(t, err)
	decodeBody(t, resp, &poll)
	require.Equal(t, "ok", poll.Status)
	require.NotNil(t, poll.Message)
	assert.Equal(t, reply1.ID, poll.Message.ID)
	assert.Equal(t, v1.ContentTypeTripPlan, poll.Message.Content.Type)
	require.NotNil(t, poll.Message.Content.Plan)
	assert.Equal(t, "California", poll.Message.Content.Plan.Destination)

	// Cursor past the reply sees nothing new.
	resp, err = http.Get(pollURL(int(reply1.ID)))
	require.NoError(t, err)
	decodeBody(t, resp, &poll)
	assert.Equal(t, "no_new_message", poll.Status)

	// The cursor alias behaves identically.
	resp, err = http.Get(fmt.Sprintf("%s/api/trip/latest?thread_id=%s&cursor=%d", ts.URL, threadID, reply1.ID))
	require.NoError(t, err)
	decodeBody(t, resp, &poll)
	assert.Equal(t, "no_new_message", poll.Status)

	// A second reply in the thread: cursor order returns the older one first.
	userMsg2, err := memStore.CreateMessage(context.Background(), store.NewMessage{
		ThreadID:  threadID,
		Role:      v1.RoleUser,
		Content:   v1.TextContent("another trip"),
		RequestID: "req-2",
	})
	require.NoError(t, err)
	reply2, err := memStore.CreateMessage(context.Background(), store.NewMessage{
		ThreadID:        threadID,
		Role:            v1.RoleAssistant,
		Content:         v1.TextContent("second reply"),
		SourceMessageID: &userMsg2.ID,
	})
	require.NoError(t, err)

	resp, err = http.Get(pollURL(0))
	require.NoError(t, err)
	decodeBody(t, resp, &poll)
	require.Equal(t, "ok", poll.Status)
	assert.Equal(t, reply1.ID, poll.Message.ID)

	// Without a cursor, the newest reply wins.
	resp, err = http.Get(pollURL(-1))
	require.NoError(t, err)
	decodeBody(t, resp, &poll)
	require.Equal(t, "ok", poll.Status)
	assert.Equal(t, reply2.ID, poll.Message.ID)
}

func TestListMessagesAfterCursor(t *testing.T) {
	ts, memStore, _ := newTestServer(t)
	threadID := createThread(t, ts)

	var ids []uint
	for i := 0; i < 3; i++ {
		msg, err := memStore.CreateMessage(context.Background(), store.NewMessage{
			ThreadID: threadID,
			Role:     v1.RoleUser,
			Content:  v1.TextContent(fmt.Sprintf("message %d", i)),
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/messages/thread/%s?after=%d", ts.URL, threadID, ids[0]))
	require.NoError(t, err)
	var messages []MessageResponse
	decodeBody(t, resp, &messages)

	require.Len(t, messages, 2)
	assert.Equal(t, ids[1], messages[0].ID)
	assert.Equal(t, ids[2], messages[1].ID)
}
