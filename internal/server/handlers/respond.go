package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/docpilot/docpilot/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected so typos in option names surface to the caller.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(r, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return apperrors.WrapInvalidInput(r.Context(), err, "request body must contain a single JSON object")
	}
	return nil
}

func bodyError(r *http.Request, err error) error {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return apperrors.NewPayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
	}
	if stderrors.Is(err, io.EOF) {
		return apperrors.NewInvalidInputError("request body is required")
	}
	return apperrors.WrapInvalidInput(r.Context(), err, "request body is not valid JSON")
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperrors.NewInvalidInputError(name + " must be a non-negative integer")
	}
	return value, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0, apperrors.NewInvalidInputError(name + " must be a non-negative number")
	}
	return value, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewInvalidInputError(name + " must be a boolean")
	}
	return value, nil
}
