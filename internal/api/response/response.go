// Package response writes the JSON envelopes every API endpoint returns.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// PageParams is a requested page. Page counts from 1.
type PageParams struct {
	Page  int
	Limit int
}

// ParsePage reads ?page= and ?limit= with defaults 1 and 20. Limit is capped
// at 100; malformed or non-positive values fall back to the defaults.
func ParsePage(r *http.Request) PageParams {
	p := PageParams{Page: 1, Limit: defaultPageLimit}
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = min(v, maxPageLimit)
	}
	return p
}

// Paginate slices items to the requested page.
func Paginate[T any](items []T, p PageParams) ([]T, PaginationMeta) {
	meta := PaginationMeta{Page: p.Page, Limit: p.Limit, Total: len(items)}
	start := (p.Page - 1) * p.Limit
	if start >= len(items) {
		return []T{}, meta
	}
	end := min(start+p.Limit, len(items))
	meta.HasNext = end < len(items)
	return items[start:end], meta
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Busy answers 429 with a Retry-After hint.
func Busy(w http.ResponseWriter, retryAfter time.Duration, code, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	Error(w, http.StatusTooManyRequests, code, message, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
