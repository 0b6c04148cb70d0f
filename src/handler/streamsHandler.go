package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/stream"
)

type streamLister interface {
	List() []stream.Status
}

// StreamsHandler lists the state of every stream in the process.
// Supports the filters userId and state.
func StreamsHandler(registry streamLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID *uint
		if userParam := r.URL.Query().Get("userId"); userParam != "" {
			id, err := strconv.ParseUint(userParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid userId", http.StatusBadRequest)
				return
			}
			u := uint(id)
			userID = &u
		}
		state := strings.ToUpper(r.URL.Query().Get("state"))

		out := make([]stream.Status, 0)
		for _, s := range registry.List() {
			if userID != nil && s.UserID != *userID {
				continue
			}
			if state != "" && string(s.State) != state {
				continue
			}
			out = append(out, s)
		}
		writeJSON(w, out)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
