package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new hashes.
var BcryptCost = 12

func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches hash. Malformed hashes are
// treated as a mismatch.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

var dummy struct {
	mu   sync.Mutex
	cost int
	hash []byte
}

// dummyHash is a hash at the current BcryptCost, so comparing against it
// costs as much as checking a real account.
func dummyHash() []byte {
	dummy.mu.Lock()
	defer dummy.mu.Unlock()
	if dummy.hash == nil || dummy.cost != BcryptCost {
		h, err := bcrypt.GenerateFromPassword([]byte("psyportal-timing-equaliser"), BcryptCost)
		if err != nil {
			h, _ = bcrypt.GenerateFromPassword([]byte("psyportal-timing-equaliser"), bcrypt.DefaultCost)
		}
		dummy.cost, dummy.hash = BcryptCost, h
	}
	return dummy.hash
}

// BurnCompare spends the cost of one hash comparison. Used for unknown
// usernames.
func BurnCompare(plain string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(plain))
}
