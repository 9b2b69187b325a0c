package provablyfair_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/provablyfair"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestGenerateCommitment(t *testing.T) {
	c, err := provablyfair.GenerateCommitment()
	require.NoError(t, err)

	assert.Regexp(t, hex64, c.Secret)
	assert.Regexp(t, hex64, c.Hash)

	sum := sha256.Sum256([]byte(c.Secret))
	assert.Equal(t, hex.EncodeToString(sum[:]), c.Hash)
	assert.Equal(t, c.Hash, provablyfair.HashSecret(c.Secret))
}

func TestGenerateCommitment_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		c, err := provablyfair.GenerateCommitment()
		require.NoError(t, err)
		_, dup := seen[c.Secret]
		require.False(t, dup, "secret repeated after %d draws", i)
		seen[c.Secret] = struct{}{}
	}
}

func TestGenerateCommitmentFrom_Deterministic(t *testing.T) {
	src := bytes.Repeat([]byte{0xab}, provablyfair.SecretBytes)

	c, err := provablyfair.GenerateCommitmentFrom(bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(src), c.Secret)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("entropy pool closed") }

func TestGenerateCommitmentFrom_FailsClosed(t *testing.T) {
	_, err := provablyfair.GenerateCommitmentFrom(brokenReader{})
	assert.ErrorIs(t, err, provablyfair.ErrRandomUnavailable)

	_, err = provablyfair.GenerateCommitmentFrom(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, provablyfair.ErrRandomUnavailable)
}

func TestCommitment_SecretNotSerialized(t *testing.T) {
	c, err := provablyfair.GenerateCommitment()
	require.NoError(t, err)

	raw, err := jsonMarshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), c.Secret)
	assert.Contains(t, string(raw), c.Hash)
}
