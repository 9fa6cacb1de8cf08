// Package notify defines the outbound notification collaborator. Delivery
// (mail, push, SMS) lives outside this engine; the interfaces here are what the
// approval and session flows call into.
package notify

import (
	"context"
	"log"

	sessiondomain "device-trust-engine/internal/session/domain"
)

// Notifier delivers user-facing security notifications.
type Notifier interface {
	// SendApprovalLink delivers the single-use approval token and human-entry
	// code for an unrecognized device, out of band.
	SendApprovalLink(ctx context.Context, userID, linkToken, code string, meta sessiondomain.Metadata) error
	// SendSecurityAlert notifies the user of a security-relevant event
	// (device denied, replay detected) carrying device/network metadata.
	SendSecurityAlert(ctx context.Context, userID, event string, meta sessiondomain.Metadata) error
}

// LogNotifier is a development Notifier that writes to the process log.
type LogNotifier struct{}

func (LogNotifier) SendApprovalLink(ctx context.Context, userID, linkToken, code string, meta sessiondomain.Metadata) error {
	log.Printf("notify: approval link for user=%s code=%s ip=%s", userID, code, meta.IPAddress)
	return nil
}

func (LogNotifier) SendSecurityAlert(ctx context.Context, userID, event string, meta sessiondomain.Metadata) error {
	log.Printf("notify: security alert %s for user=%s ip=%s location=%s", event, userID, meta.IPAddress, meta.Location)
	return nil
}
