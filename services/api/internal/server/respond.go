package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cast"

	"bookstore/internal/util"
	"bookstore/pkg/auth"
	"bookstore/pkg/store"
	"bookstore/services/api/internal/app"
)

const maxBodyBytes = 1 << 20

// envelope wraps every API response body.
type envelope struct {
	IsSuccess        bool   `json:"isSuccess"`
	Message          string `json:"message"`
	ErrorCode        string `json:"errorCode,omitempty"`
	Data             any    `json:"data"`
	ExceptionMessage string `json:"exceptionMessage,omitempty"`
}

// paged is the data of a list response.
type paged struct {
	Data        any   `json:"data"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	PageCount   int   `json:"pageCount"`
	TotalCount  int64 `json:"totalCount"`
}

func pageOf[T any](p store.PageResult[T]) paged {
	return paged{
		Data:        p.Items,
		CurrentPage: p.PageIndex,
		PageSize:    p.PageSize,
		PageCount:   p.PageCount(),
		TotalCount:  p.TotalCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{IsSuccess: true, Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Message: msg, ErrorCode: code})
}

// fail maps a service error onto the envelope. Unexpected errors are logged and
// only described to the client when exposeErrors is on.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{
			Message:   "validation failed",
			ErrorCode: "VALIDATION_FAILED",
			Data:      verr.Failures,
		})
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrInvalidRefreshToken),
		errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, app.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, app.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		body := envelope{Message: "an unexpected error occurred", ErrorCode: "INTERNAL_ERROR"}
		if s.exposeErrors {
			body.ExceptionMessage = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// decodeJSON reads a size-limited JSON body. An empty body is accepted when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
	return false
}

func pageParams(r *http.Request) (page, pageSize int) {
	return queryInt(r, "page"), queryInt(r, "pageSize")
}

// queryInt reads a base-10 query integer. Leading zeros are ignored and
// anything that is not plain decimal digits reads as 0.
func queryInt(r *http.Request, name string) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	sign := ""
	if strings.HasPrefix(v, "-") {
		sign, v = "-", v[1:]
	}
	if v == "" || strings.IndexFunc(v, func(c rune) bool { return c < '0' || c > '9' }) >= 0 {
		return 0
	}
	v = strings.TrimLeft(v, "0")
	if v == "" {
		return 0
	}
	n, err := cast.ToIntE(sign + v)
	if err != nil {
		return 0
	}
	return n
}

func keyword(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("keyword"))
}
