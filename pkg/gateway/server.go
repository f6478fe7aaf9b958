// Package gateway is the HTTP intake surface: it owns the threads and
// messages API, accepts trip-planning submissions, and enqueues jobs for the
// planning workers. The gateway never plans anything itself; a submission is
// durable (user message row plus queued job) before the 202 goes out, and
// clients discover results by polling with a cursor.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	metricsMiddleware "github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"

	"github.com/roamerhq/roamer/pkg/api"
	"github.com/roamerhq/roamer/pkg/queue"
	"github.com/roamerhq/roamer/pkg/store"
)

var (
	tripSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roamer_trip_submissions_total",
		Help: "Trip plan submissions by outcome.",
	}, []string{"outcome"})
)

type Server struct {
	listenAddr string
	store      store.Store
	queue      queue.Queue
	httpServer *http.Server
}

func NewServer(listenAddr string, storeClient store.Store, jobQueue queue.Queue) *Server {
	return &Server{
		listenAddr: listenAddr,
		store:      storeClient,
		queue:      jobQueue,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", s.jsonHealth).Methods(http.MethodGet)

	router.HandleFunc("/api/threads", s.jsonCreateThread).Methods(http.MethodPost)
	router.HandleFunc("/api/threads", s.jsonListThreads).Methods(http.MethodGet)
	router.HandleFunc("/api/threads/{id}", s.jsonGetThread).Methods(http.MethodGet)

	router.HandleFunc("/api/messages", s.jsonCreateMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/messages/thread/{id}", s.jsonListMessages).Methods(http.MethodGet)

	router.HandleFunc("/api/trip/plan", s.jsonSubmitTripPlan).Methods(http.MethodPost)
	router.HandleFunc("/api/trip/latest", s.jsonLatestTrip).Methods(http.MethodGet)

	return router
}

func (s *Server) Serve() error {
	mdw := metricsMiddleware.New(metricsMiddleware.Config{
		Recorder: metrics.NewRecorder(metrics.Config{}),
	})

	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           middlewarestd.Handler("", mdw, s.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("server listening on %s", s.listenAddr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) jsonHealth(w http.ResponseWriter, req *http.Request) {
	api.RespondWithJSON(http.StatusOK, w, map[string]string{"status": "ok"})
}

func failureResponse(w http.ResponseWriter, statusCode int, message string) {
	api.RespondWithJSON(statusCode, w, map[string]interface{}{
		"code":    statusCode,
		"message": message,
	})
}
