package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"routeopt/internal/optimize"
)

// Problem represents an RFC7807 problem details response body. Code carries
// the engine's error code when there is one.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeCodedProblem(w, status, title, detail, instance, "")
}

func writeCodedProblem(w http.ResponseWriter, status int, title, detail, instance, code string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		Code:     code,
	})
}

// optimizeStatus maps engine error codes to HTTP statuses.
func optimizeStatus(code optimize.Code) (int, string) {
	switch code {
	case optimize.CodeInvalidLocation:
		return http.StatusBadRequest, "Invalid location"
	case optimize.CodeInvalidVehicleType:
		return http.StatusBadRequest, "Unsupported vehicle type"
	case optimize.CodeInvalidRequest:
		return http.StatusBadRequest, "Invalid optimize request"
	case optimize.CodeNoRouteFound:
		return http.StatusUnprocessableEntity, "No route found"
	}
	return http.StatusInternalServerError, "Optimize failed"
}

func writeOptimizeError(w http.ResponseWriter, err error, instance string) {
	var oe *optimize.Error
	if errors.As(err, &oe) {
		status, title := optimizeStatus(oe.Code)
		writeCodedProblem(w, status, title, oe.Message, instance, string(oe.Code))
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Optimize failed", err.Error(), instance)
}
