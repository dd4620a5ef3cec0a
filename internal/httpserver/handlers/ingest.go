package handlers

import (
	"net/http"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
)

// IngestTraffic accepts a traffic push from an agent.
func IngestTraffic(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u domain.TrafficUpdate
		if err := decodeJSON(w, r, &u); err != nil {
			writeError(w, r, d, err)
			return
		}
		ack, err := d.Receiver.IngestTraffic(r.Context(), u)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

// IngestStorage accepts a storage push from an agent.
func IngestStorage(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u domain.StorageUpdate
		if err := decodeJSON(w, r, &u); err != nil {
			writeError(w, r, d, err)
			return
		}
		ack, err := d.Receiver.IngestStorage(r.Context(), u)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

// IngestActivity accepts a session count from a media backend.
func IngestActivity(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u domain.ActivityUpdate
		if err := decodeJSON(w, r, &u); err != nil {
			writeError(w, r, d, err)
			return
		}
		ack, err := d.Receiver.ObserveActivity(r.Context(), u)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}
