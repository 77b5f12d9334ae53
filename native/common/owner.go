package common

import (
	"errors"

	"bondvault/crypto"
)

var ErrNotOwner = errors.New("caller is not the owner")

// OwnerView resolves whether an identity holds the owner role.
type OwnerView interface {
	IsOwner(addr crypto.Address) bool
}

// RequireOwner returns ErrNotOwner unless addr is recognised by the view. A
// nil view denies everyone.
func RequireOwner(v OwnerView, addr crypto.Address) error {
	if v == nil || addr.IsZero() || !v.IsOwner(addr) {
		return ErrNotOwner
	}
	return nil
}

// SingleOwner grants the owner role to exactly one address.
type SingleOwner struct {
	owner crypto.Address
}

func NewSingleOwner(owner crypto.Address) *SingleOwner {
	return &SingleOwner{owner: owner}
}

func (s *SingleOwner) IsOwner(addr crypto.Address) bool {
	if s == nil || addr.IsZero() {
		return false
	}
	return s.owner == addr
}
