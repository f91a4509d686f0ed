package testutil

import (
	"net/http"

	id "evalledger/pkg/domain"
	"evalledger/pkg/requestcontext"
)

// WithActor adds the identity the auth middleware would set for an
// authenticated request. Invalid user IDs are ignored, leaving the request
// unauthenticated.
func WithActor(req *http.Request, userID string, privileged bool) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	ctx := requestcontext.WithUserID(req.Context(), parsed)
	ctx = requestcontext.WithPrivileged(ctx, privileged)
	return req.WithContext(ctx)
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

