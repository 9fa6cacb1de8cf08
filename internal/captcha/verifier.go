// Package captcha defines the CAPTCHA verification collaborator. The actual
// challenge provider is external; the approval flow only needs a verdict.
package captcha

import "context"

// Verifier checks a client-supplied CAPTCHA response token.
type Verifier interface {
	// Verify returns nil if the response token is valid for the given client IP.
	Verify(ctx context.Context, responseToken, clientIP string) error
}

// AllowAll is a Verifier that accepts every response. Development only.
type AllowAll struct{}

func (AllowAll) Verify(ctx context.Context, responseToken, clientIP string) error { return nil }
