package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVaultWithCost(bytes.Repeat([]byte{7}, 32), bcrypt.MinCost)
	require.NoError(t, err)
	return v
}

func TestMasterKeyPrefersAnonKey(t *testing.T) {
	raw := bytes.Repeat([]byte{1}, 32)
	key, err := MasterKey(base64.StdEncoding.EncodeToString(raw), "jwt")
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	_, err = MasterKey(base64.StdEncoding.EncodeToString([]byte("short")), "")
	assert.Error(t, err)

	key, err = MasterKey("", "jwt-secret")
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("jwt-secret"))
	assert.Equal(t, sum[:], key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)

	sealed, err := v.Encrypt("user-42")
	require.NoError(t, err)
	assert.NotContains(t, sealed.EncryptedReporterID, "user-42")
	assert.True(t, strings.HasPrefix(sealed.TrackingToken, "trk_"))

	got, err := v.Decrypt(sealed.EncryptedReporterID, sealed.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "user-42", got)
}

func TestEncryptUsesFreshSaltAndToken(t *testing.T) {
	v := testVault(t)
	a, err := v.Encrypt("user-42")
	require.NoError(t, err)
	b, err := v.Encrypt("user-42")
	require.NoError(t, err)

	assert.NotEqual(t, a.KeyID, b.KeyID)
	assert.NotEqual(t, a.EncryptedReporterID, b.EncryptedReporterID)
	assert.NotEqual(t, a.TrackingToken, b.TrackingToken)
}

func TestDecryptRejectsSwappedKeyIDAndOtherMaster(t *testing.T) {
	v := testVault(t)
	a, err := v.Encrypt("user-1")
	require.NoError(t, err)
	b, err := v.Encrypt("user-2")
	require.NoError(t, err)

	_, err = v.Decrypt(a.EncryptedReporterID, b.KeyID)
	assert.ErrorIs(t, err, ErrDecrypt)

	other, err := NewVaultWithCost(bytes.Repeat([]byte{9}, 32), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = other.Decrypt(a.EncryptedReporterID, a.KeyID)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = v.Decrypt("not base64!", a.KeyID)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestTrackingTokenHash(t *testing.T) {
	v := testVault(t)
	sealed, err := v.Encrypt("user-1")
	require.NoError(t, err)

	hash, err := v.HashTrackingToken(sealed.TrackingToken)
	require.NoError(t, err)
	assert.NotEqual(t, sealed.TrackingToken, hash)

	assert.True(t, v.VerifyTrackingToken(hash, sealed.TrackingToken))
	assert.False(t, v.VerifyTrackingToken(hash, "trk_wrong"))
	assert.False(t, v.VerifyTrackingToken(hash, ""))
	assert.False(t, v.VerifyTrackingToken("", sealed.TrackingToken))
}

func TestNewVaultValidatesKey(t *testing.T) {
	_, err := NewVault([]byte("short"))
	assert.Error(t, err)
}
