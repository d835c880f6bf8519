package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidFormat(t *testing.T) {
	codec := NewSerialCodec("POS")

	testCases := []struct {
		name   string
		serial string
		want   bool
	}{
		{"valid serial", "POS-2024-ABC123-B4E3", true},
		{"valid all digits body", "POS-2024-123456-AAAA", true},
		{"empty", "", false},
		{"wrong prefix", "ABC-2024-ABC123-B4E3", false},
		{"lowercase body", "POS-2024-abc123-B4E3", false},
		{"lowercase checksum", "POS-2024-ABC123-b4e3", false},
		{"three digit year", "POS-202-ABC123-B4E3", false},
		{"five digit year", "POS-20244-ABC123-B4E3", false},
		{"letters in year", "POS-20A4-ABC123-B4E3", false},
		{"body too short", "POS-2024-ABC12-B4E3", false},
		{"body too long", "POS-2024-ABC1234-B4E3", false},
		{"checksum too short", "POS-2024-ABC123-B4E", false},
		{"checksum too long", "POS-2024-ABC123-B4E33", false},
		{"missing segment", "POS-2024-ABC123", false},
		{"extra segment", "POS-2024-ABC123-B4E3-X", false},
		{"wrong separator", "POS_2024_ABC123_B4E3", false},
		{"spaces", "POS-2024-ABC 23-B4E3", false},
		{"trailing whitespace", "POS-2024-ABC123-B4E3 ", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, codec.IsValidFormat(tc.serial))
		})
	}
}

func TestIsValidChecksum(t *testing.T) {
	codec := NewSerialCodec("POS")

	// Known vectors: first 4 uppercase hex chars of the MD5 digest of the
	// serial up to and including the third hyphen.
	t.Run("known good serials", func(t *testing.T) {
		for _, serial := range []string{
			"POS-2024-ABC123-B4E3",
			"POS-2025-XYZ789-E1A7",
			"POS-2024-A1B2C3-AB0A",
		} {
			assert.True(t, codec.IsValidChecksum(serial), serial)
		}
	})

	t.Run("wrong checksum", func(t *testing.T) {
		assert.False(t, codec.IsValidChecksum("POS-2024-ABC123-0000"))
		assert.False(t, codec.IsValidChecksum("POS-2024-ABC123-E1A7"))
	})

	t.Run("case sensitive compare", func(t *testing.T) {
		assert.False(t, codec.IsValidChecksum("POS-2024-ABC123-b4e3"))
	})

	t.Run("malformed input returns false", func(t *testing.T) {
		for _, serial := range []string{
			"",
			"POS",
			"POS-2024",
			"POS-2024-ABC123",
			"POS-2024-ABC123-B4E3-EXTRA",
		} {
			assert.False(t, codec.IsValidChecksum(serial), serial)
		}
	})
}

func TestMakeSerialRoundTrip(t *testing.T) {
	codec := NewSerialCodec("POS")

	serial := codec.MakeSerial(2026, "QWE456")
	require.True(t, codec.IsValidFormat(serial), serial)
	assert.True(t, codec.IsValidChecksum(serial), serial)
	assert.True(t, strings.HasPrefix(serial, "POS-2026-QWE456-"))
}

func TestMakeSerialDifferentPrefix(t *testing.T) {
	codec := NewSerialCodec("DEMO")

	serial := codec.MakeSerial(2024, "ABC123")
	assert.True(t, codec.IsValidFormat(serial))
	assert.True(t, codec.IsValidChecksum(serial))

	// A POS codec must reject a DEMO serial at the format stage.
	assert.False(t, NewSerialCodec("POS").IsValidFormat(serial))
}

func TestMutatedChecksumRejected(t *testing.T) {
	codec := NewSerialCodec("POS")
	serial := codec.MakeSerial(2024, "ZZZZZZ")

	// Flip the last character to a different valid symbol.
	last := serial[len(serial)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	mutated := serial[:len(serial)-1] + string(replacement)

	assert.True(t, codec.IsValidFormat(mutated))
	assert.False(t, codec.IsValidChecksum(mutated))
}

func TestMaskSerial(t *testing.T) {
	assert.Equal(t, "POS-2024-****-****", MaskSerial("POS-2024-ABC123-B4E3"))
	assert.Equal(t, "****", MaskSerial("abc"))
	assert.Equal(t, "garb****", MaskSerial("garbage"))
}
