package cert

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tlsCert, err := Generate(pub, priv, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, tlsCert.Leaf)

	extracted, err := Validate(tlsCert.Leaf)
	require.NoError(t, err)
	require.Equal(t, pub, extracted)
}

func TestValidateRejectsMismatchedDNSName(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tlsCert, err := Generate(pub, priv, time.Hour)
	require.NoError(t, err)

	leaf := *tlsCert.Leaf
	leaf.DNSNames = []string{DNSNamePrefix + "notakey"}
	_, err = Validate(&leaf)
	require.ErrorContains(t, err, "DNS name")
}

func TestValidateRejectsExpired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tlsCert, err := Generate(pub, priv, -time.Minute)
	require.NoError(t, err)

	_, err = Validate(tlsCert.Leaf)
	require.ErrorContains(t, err, "expired")
}

func TestEncodePubKeyToDNSIsLowercase(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	name := EncodePubKeyToDNS(pub)
	require.Equal(t, name, string([]byte(name)))
	for _, r := range name {
		require.True(t, (r >= 'a' && r <= 'z') || (r >= '2' && r <= '7'), "unexpected rune %q", r)
	}
}
