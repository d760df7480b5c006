package passhash

import (
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SHA512-CRYPT ($6$) as specified in Ulrich Drepper's "Unix crypt using
// SHA-256 and SHA-512". Both hashing strategies produce and check hashes
// through this file so their output is bit-compatible.

const (
	// Magic is the crypt identifier for SHA512-CRYPT.
	Magic = "$6$"
	// SchemePrefix is the Dovecot scheme tag that may precede a hash.
	SchemePrefix = "{SHA512-CRYPT}"

	// DefaultRounds is the cost used for locally generated hashes.
	DefaultRounds = 5000
	MinRounds     = 1000
	MaxRounds     = 999999999

	// SaltLength is the length of locally generated salts, and the maximum
	// number of salt characters the algorithm consumes.
	SaltLength = 16

	roundsPrefix = "rounds="
)

// SaltAlphabet is the set of characters a generated salt is drawn from.
const SaltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./"

const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var ErrMalformedHash = errors.New("malformed SHA512-CRYPT hash")

// Crypt hashes key with a crypt setting such as "$6$salt" or
// "$6$rounds=10000$salt". Anything after the salt is ignored, so a full
// hash string may be passed as the setting.
func Crypt(key, setting string) (string, error) {
	if !strings.HasPrefix(setting, Magic) {
		return "", ErrMalformedHash
	}
	rest := setting[len(Magic):]

	rounds := DefaultRounds
	customRounds := false
	if strings.HasPrefix(rest, roundsPrefix) {
		end := strings.IndexByte(rest, '$')
		if end == -1 {
			return "", ErrMalformedHash
		}
		n, err := strconv.ParseUint(rest[len(roundsPrefix):end], 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: bad rounds: %v", ErrMalformedHash, err)
		}
		rounds = clampRounds(n)
		customRounds = true
		rest = rest[end+1:]
	}

	salt := rest
	if i := strings.IndexByte(salt, '$'); i != -1 {
		salt = salt[:i]
	}
	if len(salt) > SaltLength {
		salt = salt[:SaltLength]
	}

	sum := sha512Crypt([]byte(key), []byte(salt), rounds)

	var b strings.Builder
	b.WriteString(Magic)
	if customRounds {
		b.WriteString(roundsPrefix)
		b.WriteString(strconv.Itoa(rounds))
		b.WriteByte('$')
	}
	b.WriteString(salt)
	b.WriteByte('$')
	b.WriteString(encode(sum))
	return b.String(), nil
}

// CryptWithSalt hashes key with the given salt and rounds, always recording
// the rounds in the output.
func CryptWithSalt(key, salt string, rounds int) (string, error) {
	if strings.ContainsAny(salt, "$:\n") {
		return "", fmt.Errorf("%w: salt contains reserved characters", ErrMalformedHash)
	}
	return Crypt(key, fmt.Sprintf("%s%s%d$%s", Magic, roundsPrefix, rounds, salt))
}

// Verify reports whether password matches hash. A leading scheme prefix is
// accepted.
func Verify(hash, password string) bool {
	hash = StripScheme(hash)
	computed, err := Crypt(password, hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// IsSHA512Crypt reports whether s has the shape of a $6$ hash.
func IsSHA512Crypt(s string) bool {
	s = StripScheme(s)
	if !strings.HasPrefix(s, Magic) {
		return false
	}
	i := strings.LastIndexByte(s, '$')
	if i < len(Magic) {
		return false
	}
	digest := s[i+1:]
	if len(digest) != 86 {
		return false
	}
	for _, c := range digest {
		if !strings.ContainsRune(itoa64, c) {
			return false
		}
	}
	return true
}

// StripScheme removes a leading {SHA512-CRYPT} tag.
func StripScheme(hash string) string {
	return strings.TrimPrefix(hash, SchemePrefix)
}

func clampRounds(n uint64) int {
	if n < MinRounds {
		return MinRounds
	}
	if n > MaxRounds {
		return MaxRounds
	}
	return int(n)
}

func sha512Crypt(key, salt []byte, rounds int) []byte {
	// Digest B
	h := sha512.New()
	h.Write(key)
	h.Write(salt)
	h.Write(key)
	altResult := h.Sum(nil)

	// Digest A
	h.Reset()
	h.Write(key)
	h.Write(salt)
	writeRepeated(h.Write, altResult, len(key))
	for i := len(key); i > 0; i >>= 1 {
		if i&1 != 0 {
			h.Write(altResult)
		} else {
			h.Write(key)
		}
	}
	result := h.Sum(nil)

	// Digest DP and the P sequence
	h.Reset()
	for i := 0; i < len(key); i++ {
		h.Write(key)
	}
	dp := h.Sum(nil)
	pSeq := make([]byte, 0, len(key))
	writeRepeated(func(b []byte) (int, error) {
		pSeq = append(pSeq, b...)
		return len(b), nil
	}, dp, len(key))

	// Digest DS and the S sequence
	h.Reset()
	for i := 0; i < 16+int(result[0]); i++ {
		h.Write(salt)
	}
	ds := h.Sum(nil)
	sSeq := ds[:len(salt)]

	for i := 0; i < rounds; i++ {
		h.Reset()
		if i&1 != 0 {
			h.Write(pSeq)
		} else {
			h.Write(result)
		}
		if i%3 != 0 {
			h.Write(sSeq)
		}
		if i%7 != 0 {
			h.Write(pSeq)
		}
		if i&1 != 0 {
			h.Write(result)
		} else {
			h.Write(pSeq)
		}
		result = h.Sum(result[:0])
	}

	return result
}

// writeRepeated writes n bytes taken cyclically from block.
func writeRepeated(write func([]byte) (int, error), block []byte, n int) {
	for ; n > len(block); n -= len(block) {
		write(block)
	}
	write(block[:n])
}

var encodeOrder = [21][3]int{
	{0, 21, 42}, {22, 43, 1}, {44, 2, 23}, {3, 24, 45}, {25, 46, 4},
	{47, 5, 26}, {6, 27, 48}, {28, 49, 7}, {50, 8, 29}, {9, 30, 51},
	{31, 52, 10}, {53, 11, 32}, {12, 33, 54}, {34, 55, 13}, {56, 14, 35},
	{15, 36, 57}, {37, 58, 16}, {59, 17, 38}, {18, 39, 60}, {40, 61, 19},
	{62, 20, 41},
}

func encode(sum []byte) string {
	out := make([]byte, 0, 86)
	for _, g := range encodeOrder {
		out = b64From24Bit(out, sum[g[0]], sum[g[1]], sum[g[2]], 4)
	}
	return string(b64From24Bit(out, 0, 0, sum[63], 2))
}

func b64From24Bit(dst []byte, b2, b1, b0 byte, n int) []byte {
	w := uint(b2)<<16 | uint(b1)<<8 | uint(b0)
	for ; n > 0; n-- {
		dst = append(dst, itoa64[w&0x3f])
		w >>= 6
	}
	return dst
}
