package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetTokenVerifier(t *testing.T) {
	v, err := NewResetTokenVerifier("support-secret")
	require.NoError(t, err)
	require.NotNil(t, v)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "correct token", token: "support-secret", want: true},
		{name: "wrong token", token: "wrong-secret", want: false},
		{name: "empty token", token: "", want: false},
		{name: "prefix of token", token: "support", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.token))
		})
	}
}

func TestResetTokenVerifierEmptyConfig(t *testing.T) {
	v, err := NewResetTokenVerifier("")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Nil verifier rejects everything, including the empty string.
	assert.False(t, v.Verify(""))
	assert.False(t, v.Verify("anything"))
}

func TestResetTokenVerifierSaltsDiffer(t *testing.T) {
	a, err := NewResetTokenVerifier("token")
	require.NoError(t, err)
	b, err := NewResetTokenVerifier("token")
	require.NoError(t, err)

	assert.NotEqual(t, a.salt, b.salt)
	assert.NotEqual(t, a.digest, b.digest)
	assert.True(t, a.Verify("token"))
	assert.True(t, b.Verify("token"))
}
