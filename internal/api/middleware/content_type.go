package middleware

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/bulkimport/bulkimport/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to application/json.
// Handlers writing problems or files set their own.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects request bodies that declare a media type other than
// JSON with a 415 problem. A missing Content-Type is let through: the
// handler's decoder reports bodies that are not JSON.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("Content-Type"); raw != "" && !isJSON(raw) {
			requestID := GetRequestID(r.Context())
			problem := models.NewUnsupportedMediaType(requestID, fmt.Sprintf("expected application/json, got %s", raw))
			problem.Instance = r.URL.Path
			problem.Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isJSON accepts application/json and structured +json types.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
