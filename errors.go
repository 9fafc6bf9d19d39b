package oidcservice

import (
	"fmt"
	"net/http"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/oauth2"
)

// HTTPError indicates a generic HTTP error occured during an interaction. It
// exposes details about the returned response, as well as the original error
type HTTPError struct {
	// Operation is the name of the operation that made the request
	Operation string
	Response  *http.Response
	Body      []byte
	Cause     error
}

func (h *HTTPError) Error() string {
	return fmt.Sprintf("%s: http status %s: %s", h.Operation, h.Response.Status, string(h.Body))
}

func (h *HTTPError) Unwrap() error {
	return h.Cause
}

// parseResponseError converts a non 2xx response into the first match of:
// * an oauth2.TokenError if the response was 400, 401 or 403 and carries an
// error response in the body
// * an oauth2.TokenError if the response carries an error in a Bearer
// challenge, as protected resources return them
// * a HTTPError for everything else
func parseResponseError(operation string, resp *http.Response, body []byte) error {
	herr := &HTTPError{
		Operation: operation,
		Response:  resp,
		Body:      body,
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
	default:
		return herr
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	if m, err := message.FromJSON(string(body)); err == nil {
		if terr := oauth2.FromMessage(operation, m); terr != nil {
			terr.WWWAuthenticate = challenge
			return terr
		}
	}
	if terr := oauth2.FromWWWAuthenticate(operation, challenge); terr != nil {
		return terr
	}
	// not formatted correctly/non-standard, treat as HTTP
	return herr
}
