package security

import (
	"mime"
	"net/http"
)

// ValidateContentType reports whether a request body of contentType can be
// bound by the API. Only JSON is accepted; media type parameters such as
// charset are ignored.
func ValidateContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// HasBody reports whether the request carries a body worth validating.
func HasBody(r *http.Request) bool {
	return r.ContentLength > 0 || len(r.TransferEncoding) > 0
}
