package security

import "golang.org/x/crypto/bcrypt"

// Hasher wraps bcrypt for password storage. Plaintext passwords pass through
// here and must never be logged or persisted.
type Hasher struct {
	cost int
}

// NewHasher clamps cost into bcrypt's supported range. Zero or negative
// selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt digest of password, ready for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(password, h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Compare checks password against the stored digest. A mismatch surfaces as
// bcrypt.ErrMismatchedHashAndPassword.
func (h *Hasher) Compare(digest string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(digest), password)
}
