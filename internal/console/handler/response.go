package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON - единый формат успешных ответов консоли.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
