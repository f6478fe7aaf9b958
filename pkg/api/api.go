// Package api holds the JSON response helpers shared by HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// RespondWithJSON writes the payload as a JSON response with the given
// status code.
func RespondWithJSON(statusCode int, w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("could not write JSON response")
	}
}

// GetBaseURL reconstructs the scheme and host the client used, for building
// links in responses.
func GetBaseURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if forwarded := req.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + req.Host
}
