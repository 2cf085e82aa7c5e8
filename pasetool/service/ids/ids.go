package ids

import (
	"crypto/rand"
)

// DefaultLength is the flow ID length used by the proxy index.
const DefaultLength = 6

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// largest multiple of len(alphabet) that fits in a byte; higher bytes are rejected to avoid bias
const rejectAbove = 256 - 256%len(alphabet)

// Generate returns a random base62 ID. Lengths below one use DefaultLength.
func Generate(length int) string {
	if length <= 0 {
		length = DefaultLength
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out)
}
