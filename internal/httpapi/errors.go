package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/zahash/mona/internal/audit"
	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
	"github.com/zahash/mona/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, msg, "")
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, msg, errCode string) {
	payload := map[string]any{
		"error": msg,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "resource not found")
}

// handleAuthError maps auth errors onto HTTP statuses. Internal failures
// are logged with a trace id and masked in the response.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch auth.KindOf(err) {
	case auth.KindMalformed:
		status = http.StatusBadRequest
	case auth.KindUnauthenticated:
		w.Header().Add("WWW-Authenticate", `Basic realm="mona", charset="UTF-8"`)
		w.Header().Add("WWW-Authenticate", `Token realm="mona"`)
		status = http.StatusUnauthorized
	case auth.KindForbidden:
		status = http.StatusForbidden
	case auth.KindNotFound:
		status = http.StatusNotFound
	case auth.KindConflict:
		status = http.StatusConflict
	case auth.KindGone:
		status = http.StatusGone
	default:
		traceID := ids.Trace()
		obs.Logger().ErrorContext(r.Context(), "request_failed",
			"trace_id", traceID,
			"request_id", audit.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "internal error",
			"trace_id":   traceID,
			"request_id": audit.RequestIDFromContext(r.Context()),
		})
		return
	}
	obs.Logger().InfoContext(r.Context(), "request_rejected",
		"request_id", audit.RequestIDFromContext(r.Context()),
		"status", status,
		"code", auth.Code(err),
	)
	writeErrorCode(w, r, status, err.Error(), auth.Code(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// formValue reads a trimmed field from a url-encoded or multipart body.
func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}
