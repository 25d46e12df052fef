// Package provider abstracts the outbound messaging channel. The dispatcher
// only depends on the Provider interface and the error taxonomy here.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Message is one personalized outbound message
type Message struct {
	To      string // normalized phone
	Name    string
	Body    string // rendered text, variables substituted
	Payload string // optional provider-specific JSON payload for template sends
}

// Receipt is the provider acknowledgment of an accepted message
type Receipt struct {
	Ref string // opaque provider-side message id
}

// Provider sends messages through one connected account
type Provider interface {
	// Send delivers msg through the account. The returned error, if any,
	// should be built with Transient, Permanent or AccountFault so the
	// dispatcher can decide between retrying, failing the recipient, or
	// halting the account.
	Send(ctx context.Context, accountID string, msg Message) (Receipt, error)
}

// ErrorKind classifies a send failure for retry handling
type ErrorKind int

const (
	// KindTransient failures may succeed on retry: timeouts, throttling,
	// upstream flakiness.
	KindTransient ErrorKind = iota
	// KindPermanent failures never succeed on retry: invalid recipient,
	// rejected content.
	KindPermanent
	// KindAccountFault failures poison every send through the account:
	// expired or revoked credentials, banned number.
	KindAccountFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAccountFault:
		return "account_fault"
	}
	return "unknown"
}

// Error is a classified send failure
type Error struct {
	Kind ErrorKind
	Code string // provider error code, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure
func Transient(code string, err error) error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

// Permanent wraps err as a non-retryable failure
func Permanent(code string, err error) error {
	return &Error{Kind: KindPermanent, Code: code, Err: err}
}

// AccountFault wraps err as an account-level failure
func AccountFault(code string, err error) error {
	return &Error{Kind: KindAccountFault, Code: code, Err: err}
}

// Classify returns the error kind. Unclassified errors count as transient,
// the same assumption the retry loop would make for a network blip.
func Classify(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// IsAccountFault reports whether err halts the whole account
func IsAccountFault(err error) bool {
	return Classify(err) == KindAccountFault
}

// IsPermanent reports whether err should fail the recipient without retry
func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}
