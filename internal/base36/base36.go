// Package base36 turns a 6-byte hardware address into a short hostname-safe
// token. The panel advertises itself as panel-<token> over mDNS, so the
// encoding has to be deterministic and stable across reboots.
package base36

import "fmt"

const (
	base         = 36
	inputLength  = 6
	outputMaxLen = 10
)

const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

// Encode converts a hardware address to its base-36 representation, most
// significant digit first, with no padding. The input must be exactly 6
// bytes. An all-zero address encodes to "0", never to an empty string.
func Encode(addr []byte) (string, error) {
	if len(addr) != inputLength {
		return "", fmt.Errorf("base36: address must be %d bytes, got %d", inputLength, len(addr))
	}

	var number uint64
	for _, b := range addr {
		number = number<<8 | uint64(b)
	}

	if number == 0 {
		return "0", nil
	}

	buf := make([]byte, outputMaxLen)
	i := len(buf)

	for number > 0 {
		i--
		buf[i] = digits[number%base]
		number /= base
	}

	return string(buf[i:]), nil
}
