package serv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/cordal-io/cordal/core"
)

// RequestError is a data-plane failure that maps onto an HTTP status.
type RequestError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Param   string `json:"parameter,omitempty"`
}

// Request error kinds.
const (
	KindBadRequest   = "BadRequest"
	KindNotFound     = "NotFound"
	KindIllegalState = "IllegalState"
)

// Error implements the error interface.
func (e *RequestError) Error() string { return e.Message }

// status maps the error kind to its HTTP status code.
func (e *RequestError) status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindIllegalState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// badRequest builds a BadRequest error for one parameter.
func badRequest(param, format string, args ...interface{}) *RequestError {
	return &RequestError{
		Kind:    KindBadRequest,
		Message: fmt.Sprintf(format, args...),
		Param:   param,
	}
}

// notFound builds a NotFound error.
func notFound(format string, args ...interface{}) *RequestError {
	return &RequestError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// illegalState builds an IllegalState error.
func illegalState(format string, args ...interface{}) *RequestError {
	return &RequestError{Kind: KindIllegalState, Message: fmt.Sprintf(format, args...)}
}

// writeJSON encodes data as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

// writeJSONStatus writes data with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

// writeError renders any error as a structured JSON error payload.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "Internal"
	param := ""

	var re *RequestError
	var ee *core.ExecError
	var ce *core.ConfigError
	switch {
	case errors.As(err, &re):
		status = re.status()
		kind = re.Kind
		param = re.Param
	case errors.As(err, &ee):
		kind = "ExecError"
	case errors.As(err, &ce):
		kind = string(ce.Kind)
		switch ce.Kind {
		case core.ErrNotFound:
			status = http.StatusNotFound
		case core.ErrParse, core.ErrEmpty:
			status = http.StatusBadRequest
		case core.ErrDuplicate:
			status = http.StatusConflict
		}
	}

	payload := map[string]interface{}{
		"error":     err.Error(),
		"kind":      kind,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if param != "" {
		payload["parameter"] = param
	}
	writeJSONStatus(w, status, payload)
}

// sortedEndpointNames returns endpoint names in ascending order.
func sortedEndpointNames(m map[string]core.Endpoint) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
