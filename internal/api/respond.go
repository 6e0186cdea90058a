package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"resource-orm/internal/logging"
	"resource-orm/internal/ormerr"
)

type envelope struct {
	Data interface{} `json:"data"`
	Meta *listMeta   `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

var errEmptyBody = ormerr.InvalidRequest("unable to parse request: body is empty")

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Field: field}})
}

// fail renders err using the error envelope. Driver detail never reaches the
// client; server-side failures are logged with the full chain.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logFailure(r, err)
	e := asError(err)
	writeErrorBody(w, e.HTTPStatus(), e.Code(), e.Message, e.Field)
}

func (h *Handler) logFailure(r *http.Request, err error) {
	logger := logging.FromContextOr(r.Context(), h.logger)
	if statusOf(err) >= http.StatusInternalServerError {
		logger.Error("resource request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return
	}
	logger.Debug("resource request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
}

func asError(err error) *ormerr.Error {
	var e *ormerr.Error
	if errors.As(err, &e) {
		return e
	}
	return ormerr.Wrap(ormerr.KindUnexpected, err, "unexpected error")
}

func statusOf(err error) int {
	return asError(err).HTTPStatus()
}

// decodeBody reads a JSON object from the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64) (map[string]interface{}, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()

	var fields map[string]interface{}
	dec := json.NewDecoder(body)
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ormerr.InvalidRequest("unable to parse request: body exceeds %d bytes", limit)
		}
		return nil, ormerr.Wrap(ormerr.KindInvalidRequest, err, "unable to parse request: body must be a JSON object")
	}
	if dec.More() {
		return nil, ormerr.InvalidRequest("unable to parse request: body contains more than one JSON value")
	}
	if fields == nil {
		return nil, ormerr.InvalidRequest("unable to parse request: body must be a JSON object")
	}
	return fields, nil
}
