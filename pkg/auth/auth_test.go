package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func Test_Auth_New(t *testing.T) {
	assert := assert.New(t)

	t.Run("ShortSecret", func(t *testing.T) {
		_, err := New("too-short")
		assert.Error(err)
	})
	t.Run("InsecureSecret", func(t *testing.T) {
		_, err := New("DEV-SECRET-KEY-CHANGE-IN-PRODUCTION")
		assert.Error(err)
	})
	t.Run("InvalidTTL", func(t *testing.T) {
		_, err := New(testSecret, WithUploadTTL(0))
		assert.Error(err)
	})
	t.Run("Defaults", func(t *testing.T) {
		a, err := New(testSecret)
		if assert.NoError(err) {
			assert.Equal(schema.DefaultUploadTTL, a.UploadTTL())
		}
	})
}

func Test_Auth_UploadScope(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, err := New(testSecret)
	require.NoError(err)

	token, expires, err := a.MintUpload("session-a", "alice")
	require.NoError(err)
	assert.WithinDuration(time.Now().Add(schema.DefaultUploadTTL), expires, 2*time.Second)

	claims, err := a.Verify(token, schema.TokenUpload)
	require.NoError(err)
	assert.Equal("session-a", claims.Subject)
	assert.Equal("alice", claims.Owner)
	assert.True(claims.Scoped("session-a"))
	assert.False(claims.Scoped("session-b"))

	// An upload credential is not an access credential
	_, err = a.Verify(token, schema.TokenAccess)
	assert.Error(err)
}

func Test_Auth_Access(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, err := New(testSecret, WithIssuer("test"))
	require.NoError(err)

	token, _, err := a.MintAccess("bob")
	require.NoError(err)
	claims, err := a.Verify(token, schema.TokenAccess)
	require.NoError(err)
	assert.Equal("bob", claims.Subject)
	assert.False(claims.Scoped("bob"))

	_, _, err = a.MintAccess("")
	assert.Error(err)
}

func Test_Auth_Rejects(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, err := New(testSecret)
	require.NoError(err)

	t.Run("Empty", func(t *testing.T) {
		_, err := a.Verify("", schema.TokenUpload)
		assert.Error(err)
	})

	t.Run("OtherSecret", func(t *testing.T) {
		other, err := New("fedcba9876543210fedcba9876543210")
		require.NoError(err)
		token, _, err := other.MintUpload("s1", "alice")
		require.NoError(err)
		_, err = a.Verify(token, schema.TokenUpload)
		assert.Error(err)
	})

	t.Run("OtherIssuer", func(t *testing.T) {
		other, err := New(testSecret, WithIssuer("elsewhere"))
		require.NoError(err)
		token, _, err := other.MintUpload("s1", "alice")
		require.NoError(err)
		_, err = a.Verify(token, schema.TokenUpload)
		assert.Error(err)
	})

	t.Run("Expired", func(t *testing.T) {
		past, err := New(testSecret, withClock(func() time.Time {
			return time.Now().Add(-2 * schema.DefaultUploadTTL)
		}))
		require.NoError(err)
		token, _, err := past.MintUpload("s1", "alice")
		require.NoError(err)
		_, err = a.Verify(token, schema.TokenUpload)
		assert.Error(err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := a.Verify("not.a.jwt", schema.TokenUpload)
		assert.Error(err)
	})
}

func Test_Auth_Bearer(t *testing.T) {
	assert := assert.New(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal("", Bearer(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal("abc.def", Bearer(r))

	r.Header.Set("Authorization", "bearer  xyz ")
	assert.Equal("xyz", Bearer(r))

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Equal("", Bearer(r))
}
