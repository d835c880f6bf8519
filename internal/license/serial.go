package license

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// SerialCodec validates the structural format and embedded checksum of
// serial numbers of the form PREFIX-YYYY-XXXXXX-CCCC, where YYYY is four
// digits, XXXXXX is six uppercase alphanumerics and CCCC is the checksum.
// Both checks are pure and deterministic; callers run format before checksum.
type SerialCodec struct {
	prefix string
	format *regexp.Regexp
}

// NewSerialCodec creates a codec for the given fixed serial prefix.
func NewSerialCodec(prefix string) *SerialCodec {
	return &SerialCodec{
		prefix: prefix,
		format: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-\d{4}-[A-Z0-9]{6}-[A-Z0-9]{4}$`),
	}
}

// Prefix returns the fixed literal leading every serial number.
func (c *SerialCodec) Prefix() string {
	return c.prefix
}

// IsValidFormat reports whether the serial matches the exact
// PREFIX-YYYY-XXXXXX-CCCC shape. Any deviation is rejected.
func (c *SerialCodec) IsValidFormat(serial string) bool {
	return c.format.MatchString(serial)
}

// IsValidChecksum recomputes the checksum over the first three segments plus
// the trailing hyphen and compares it case-sensitively to the fourth
// segment. Malformed input returns false rather than panicking.
func (c *SerialCodec) IsValidChecksum(serial string) bool {
	parts := strings.Split(serial, "-")
	if len(parts) != 4 {
		return false
	}
	base := parts[0] + "-" + parts[1] + "-" + parts[2] + "-"
	return checksum(base) == parts[3]
}

// MakeSerial composes a complete serial with a valid checksum from a year
// and a six-character body. Used by support tooling and tests.
func (c *SerialCodec) MakeSerial(year int, body string) string {
	base := fmt.Sprintf("%s-%04d-%s-", c.prefix, year, strings.ToUpper(body))
	return base + checksum(base)
}

// checksum is the first 4 uppercase hex characters of the MD5 digest of the
// serial up to and including the third hyphen.
func checksum(base string) string {
	sum := md5.Sum([]byte(base))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:4]
}

// MaskSerial masks a serial number for logging (PREFIX-YYYY-****-****).
func MaskSerial(serial string) string {
	parts := strings.Split(serial, "-")
	if len(parts) < 3 {
		if len(serial) > 4 {
			return serial[:4] + "****"
		}
		return "****"
	}
	masked := parts[0] + "-" + parts[1]
	for i := 2; i < len(parts); i++ {
		masked += "-****"
	}
	return masked
}
