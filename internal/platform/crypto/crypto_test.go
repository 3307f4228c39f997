package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyA = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	testKeyB = "ZmVkY2JhOTg3NjU0MzIxMGZlZGNiYTk4NzY1NDMyMTA="
)

func TestNew_RejectsBadKeys(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrKeyRequired)

	_, err = New("%%%not-base64%%")
	assert.ErrorIs(t, err, ErrKeyInvalid)

	_, err = New(base64.StdEncoding.EncodeToString([]byte("short-key")))
	assert.ErrorIs(t, err, ErrKeyInvalid)
}

func TestFieldCrypto_RoundTrip(t *testing.T) {
	c, err := New(testKeyA)
	require.NoError(t, err)

	sealed, err := c.Encrypt("Acme")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.True(t, strings.HasPrefix(sealed, ciphertextPrefix))

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "Acme", plain)
}

func TestFieldCrypto_DecryptFailures(t *testing.T) {
	a, err := New(testKeyA)
	require.NoError(t, err)
	b, err := New(testKeyB)
	require.NoError(t, err)

	sealed, err := a.Encrypt("Acme")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = a.Decrypt("Acme")
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = a.Decrypt(ciphertextPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrDecryptFailed)

	var nilCrypto *FieldCrypto
	_, err = nilCrypto.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestIsEncrypted(t *testing.T) {
	assert.False(t, IsEncrypted(""))
	assert.False(t, IsEncrypted("plain"))
	assert.True(t, IsEncrypted("enc:v1:anything"))
}
