package server

import (
	"log"
	"net/http"
	"strconv"
)

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "Match history requires a database connection", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	matches, err := s.DB.RecentMatches(limit)
	if err != nil {
		log.Printf("[Matches] recent matches error: %v\n", err)
		http.Error(w, "Failed to load matches", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "Match history requires a database connection", http.StatusServiceUnavailable)
		return
	}
	m, err := s.DB.GetMatch(r.PathValue("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
