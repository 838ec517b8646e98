package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// RequestIdentity carries the raw identity markers found on an inbound
// request. The markers are mutually exclusive; at most one may be set.
type RequestIdentity struct {
	SessionToken    string // customer-space session cookie
	OperatorToken   string
	AccountingToken string
}

// Profile is the authoritative identity record returned by the source of
// record. Client-supplied role claims are never used for authorization;
// only this profile is.
type Profile struct {
	UserID      snowflake.ID
	OrgID       snowflake.ID
	Role        Role
	Permissions []string
	Owner       bool
	Privileged  bool
}

// ProfileSource is the identity/profile source of record.
type ProfileSource interface {
	Lookup(ctx context.Context, space Space, token string) (*Profile, error)
}

// Service resolves inbound request identity into a Session.
//
// Resolve returns (nil, nil) when the request carries no identity marker.
// Any other failure also yields a nil session: conflicting markers,
// unknown tokens, and profile-source outages all fail closed.
type Service interface {
	Resolve(ctx context.Context, identity RequestIdentity) (*Session, error)
}

var (
	ErrAmbiguousIdentity  = errors.New("ambiguous_identity")
	ErrUnknownPrincipal   = errors.New("unknown_principal")
	ErrProfileUnavailable = errors.New("profile_unavailable")
)
