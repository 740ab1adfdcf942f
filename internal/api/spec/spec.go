// Package spec embeds the OpenAPI document served at /openapi.yaml and
// rendered by the /docs UI.
package spec

import (
	_ "embed"
	"net/http"
	"strconv"
)

//go:embed openapi.yaml
var openapiYAML []byte

// OpenAPI returns the raw document.
func OpenAPI() []byte {
	return openapiYAML
}

// OpenAPIHandler serves the embedded OpenAPI specification.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Length", strconv.Itoa(len(openapiYAML)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapiYAML)
	}
}
