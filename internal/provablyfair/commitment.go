package provablyfair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// SecretBytes is the entropy drawn for every server secret (256 bits).
const SecretBytes = 32

var ErrRandomUnavailable = errors.New("secure random source unavailable")

// Commitment pairs a server secret with its public hash. Secret stays private
// until the game is settled; Hash is published before any entry is accepted.
type Commitment struct {
	Secret string `json:"-"`
	Hash   string `json:"secret_commitment"`
}

func GenerateCommitment() (Commitment, error) {
	return GenerateCommitmentFrom(rand.Reader)
}

// GenerateCommitmentFrom reads the secret from r. Any read failure is fatal
// for the caller: there is no fallback to a weaker source.
func GenerateCommitmentFrom(r io.Reader) (Commitment, error) {
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}

	secret := hex.EncodeToString(buf)

	return Commitment{
		Secret: secret,
		Hash:   HashSecret(secret),
	}, nil
}

// HashSecret returns the lowercase hex SHA-256 of the secret text.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
