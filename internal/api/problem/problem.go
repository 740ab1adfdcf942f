// Package problem writes RFC 7807 problem details. Every error the ledger
// API returns goes through Write, so clients can branch on a stable code.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.wealth-ledger.dev/"
	traceHeader = "X-Trace-ID"
)

// Details is an RFC 7807 body. Code repeats the slug of Type.
type Details struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// Type turns a slug such as "wallet/insufficient-balance" into a type URI.
func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends a problem response. An empty problemType is "about:blank".
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{
		Type:   problemType,
		Code:   strings.TrimPrefix(problemType, baseTypeURL),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if d.Code == problemType {
		d.Code = ""
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(traceHeader)
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
