package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Secret is a decoded TOTP configuration.
type Secret struct {
	Key    []byte
	Digits int
	Period time.Duration
}

// GenerateTOTP returns the current one-time code for secret at time t.
// secret may be raw base32, "<digits> <base32>", or an otpauth:// URI.
func GenerateTOTP(secret string, t time.Time) (string, error) {
	s, err := ParseSecret(secret)
	if err != nil {
		return "", err
	}
	return s.Code(t), nil
}

// Code computes the RFC 6238 code for t.
func (s Secret) Code(t time.Time) string {
	period := int64(s.Period / time.Second)
	if period <= 0 {
		period = 30
	}
	digits := clampDigits(s.Digits)

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix()/period))
	mac := hmac.New(sha1.New, s.Key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, value%mod)
}

func ParseSecret(raw string) (Secret, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Secret{}, fmt.Errorf("empty secret")
	}
	s := Secret{Digits: 6, Period: 30 * time.Second}

	if strings.HasPrefix(strings.ToLower(raw), "otpauth://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Secret{}, err
		}
		q := u.Query()
		if d, err := strconv.Atoi(q.Get("digits")); err == nil && d > 0 {
			s.Digits = d
		}
		if p, err := strconv.Atoi(q.Get("period")); err == nil && p > 0 {
			s.Period = time.Duration(p) * time.Second
		}
		raw = q.Get("secret")
	} else if parts := strings.Fields(raw); len(parts) >= 2 {
		if d, err := strconv.Atoi(parts[0]); err == nil {
			s.Digits = d
			raw = strings.Join(parts[1:], "")
		}
	}

	key, err := decodeBase32(raw)
	if err != nil {
		return Secret{}, err
	}
	s.Key = key
	s.Digits = clampDigits(s.Digits)
	return s, nil
}

// clampDigits keeps code lengths within 6 to 8, the range authenticator
// apps produce and the truncated 31-bit value can fill.
func clampDigits(d int) int {
	switch {
	case d < 6:
		return 6
	case d > 8:
		return 8
	}
	return d
}

func decodeBase32(sec string) ([]byte, error) {
	upper := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(sec), " ", ""))
	if upper == "" {
		return nil, fmt.Errorf("empty secret")
	}
	unpadded := strings.TrimRight(upper, "=")
	for _, enc := range []*base32.Encoding{
		base32.StdEncoding.WithPadding(base32.NoPadding),
		base32.HexEncoding.WithPadding(base32.NoPadding),
	} {
		if k, err := enc.DecodeString(unpadded); err == nil && len(k) > 0 {
			return k, nil
		}
	}
	return nil, fmt.Errorf("unsupported TOTP secret format")
}
