package handler

import "net/http"

// HandleHealth answers liveness probes.
//
// HTTP: GET /health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleRoot is a plain greeting so a browser hitting the service sees it is up.
//
// HTTP: GET /
func HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World from identity-service"})
}

// HandleNotFound keeps unknown routes on the standard error shape.
func HandleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Route Not Found"})
}
