// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxIdentityLen = 64

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity uniquely names a participant within a session.
type Identity string

// Participant is a local or remote endpoint in a session.
type Participant struct {
	Identity Identity `json:"identity"`
	Name     string   `json:"name"`
	IsLocal  bool     `json:"is_local"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(identity, name string) (*Participant, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if name == "" {
		name = identity
	}
	return &Participant{Identity: Identity(identity), Name: name}, nil
}

// NewLocalParticipant builds the local endpoint, generating an identity
// when the caller did not configure one.
func NewLocalParticipant(identity, name string) (*Participant, error) {
	if identity == "" {
		identity = uuid.NewString()
	}
	p, err := NewParticipant(identity, name)
	if err != nil {
		return nil, err
	}
	p.IsLocal = true
	return p, nil
}

func ValidateIdentity(identity string) error {
	if len(identity) == 0 {
		return ErrIdentityEmpty
	}
	if len(identity) > MaxIdentityLen {
		return ErrIdentityTooLong
	}
	return nil
}
