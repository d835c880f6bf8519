package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFingerprintShape(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	fp := fm.GenerateFingerprint()
	require.NotNil(t, fp)
	require.NotEmpty(t, fp.Fingerprint)

	if fp.Basic {
		// Basic fallback: single 24-hex-char digest.
		assert.Len(t, fp.Fingerprint, 24)
		return
	}

	parts := strings.Split(fp.Fingerprint, "-")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 16)
	assert.Len(t, parts[1], 8)
	for _, part := range parts {
		assert.Regexp(t, "^[0-9a-f]+$", part)
	}
}

func TestGenerateFingerprintDeterministic(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	first := fm.GenerateFingerprint()
	fm.ClearCache()
	second := fm.GenerateFingerprint()

	if first.Basic || second.Basic {
		t.Skip("basic fallback fingerprint is intentionally not stable")
	}

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestGenerateFingerprintCached(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	first := fm.GenerateFingerprint()
	second := fm.GenerateFingerprint()

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
}

func TestBasicFingerprintNotStable(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	first := fm.basicFingerprint()
	second := fm.basicFingerprint()

	assert.True(t, first.Basic)
	assert.Len(t, first.Fingerprint, 24)
	// Wall-clock time is folded in, so consecutive calls differ.
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestMotherboardIDNonWindows(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	id := fm.MotherboardID()
	assert.NotEmpty(t, id)
}

func TestPrimaryMACAddress(t *testing.T) {
	fm := NewFingerprintManager(2 * time.Second)

	mac := fm.PrimaryMACAddress()
	require.NotEmpty(t, mac)
	if mac != NoMACSentinel {
		assert.Regexp(t, "^([0-9a-f]{2}:)+[0-9a-f]{2}$", mac)
		assert.NotEqual(t, "00:00:00:00:00:00", mac)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Intel(R)  Core(TM)   i7", "Intel(R) Core(TM) i7"},
		{"  AMD Ryzen 9 ", "AMD Ryzen 9"},
		{"single", "single"},
		{"", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, normalizeWhitespace(tc.in))
	}
}

func TestDigestHex(t *testing.T) {
	assert.Len(t, digestHex("abc", 16), 16)
	assert.Len(t, digestHex("abc", 8), 8)
	assert.Len(t, digestHex("abc", 1000), 64)
	// Deterministic for the same input.
	assert.Equal(t, digestHex("xyz", 24), digestHex("xyz", 24))
	assert.NotEqual(t, digestHex("a", 16), digestHex("b", 16))
}

func TestIsEthernetName(t *testing.T) {
	assert.True(t, isEthernetName("eth0"))
	assert.True(t, isEthernetName("en0"))
	assert.True(t, isEthernetName("enp3s0"))
	assert.True(t, isEthernetName("Ethernet 2"))
	assert.False(t, isEthernetName("lo"))
	assert.False(t, isEthernetName("wlan0"))
}
