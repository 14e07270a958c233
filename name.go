package klstore

import (
	"fmt"
	"strconv"
	"strings"
)

// NoPredecessor is the sentinel priorBatchFirstOffset denoting "no predecessor" (§6):
// 2^64-1, chosen so a self-loop (priorBatchFirstOffset == firstOffset) is impossible
// and the field keeps its fixed width.
const NoPredecessor uint64 = 1<<64 - 1

const (
	offsetWidth = 20 // fits a u64 in decimal
	nonceWidth  = 39 // fits a u128 in decimal, per §9

	sepObjectOffset = "_o"
	sepOffsetRange  = "-o"
	sepTimestamp    = "_t"
	sepTimestampRng = "-t"
	sepNonce        = "_n"
	sepNonceRange   = "-n"
	sepSize         = "_s"
	sepPrior        = "_p"
	suffix          = ".bin"
)

// ObjectMeta is the decoded form of a batch object's name (C1, §3).
type ObjectMeta struct {
	Keyspace              string
	Key                   string
	FirstOffset           uint64
	LastOffset            uint64
	MinTimestamp          int64
	MaxTimestamp          int64
	FirstNonce            Nonce
	NextNonce             Nonce
	SizeInBytes           uint64
	PriorBatchFirstOffset uint64
}

// RecordCount returns the number of records the name claims the object holds.
func (m ObjectMeta) RecordCount() uint64 {
	return m.LastOffset - m.FirstOffset + 1
}

// prefixFor returns the directory-like prefix objects for (keyspace,key) share, used for
// LIST calls (§4.6). encodeSegment percent-encodes the caller-supplied segments.
func prefixFor(objectPrefix, keyspace, key string) string {
	return objectPrefix + encodeSegment(keyspace) + "/" + encodeSegment(key) + "/data"
}

// EncodeName encodes meta into the literal object-name schema from §3/§6. Zero-padded
// decimal fields keep lexical listing order equal to numeric order — the central
// invariant the whole binary-search scheme depends on.
func EncodeName(objectPrefix string, m ObjectMeta) (string, error) {
	if m.FirstOffset > m.LastOffset {
		return "", fmt.Errorf("%w: firstOffset %d > lastOffset %d", ErrCorruptName, m.FirstOffset, m.LastOffset)
	}
	if m.MinTimestamp > m.MaxTimestamp {
		return "", fmt.Errorf("%w: minTimestamp %d > maxTimestamp %d", ErrCorruptName, m.MinTimestamp, m.MaxTimestamp)
	}
	if m.FirstNonce.Cmp(m.NextNonce) >= 0 {
		return "", fmt.Errorf("%w: firstNonce must be < nextNonce", ErrCorruptName)
	}
	if m.SizeInBytes == 0 {
		return "", fmt.Errorf("%w: sizeInBytes must be > 0", ErrCorruptName)
	}

	var b strings.Builder
	b.WriteString(prefixFor(objectPrefix, m.Keyspace, m.Key))
	b.WriteString(sepObjectOffset)
	b.WriteString(padUint(m.FirstOffset, offsetWidth))
	b.WriteString(sepOffsetRange)
	b.WriteString(padUint(m.LastOffset, offsetWidth))
	b.WriteString(sepTimestamp)
	b.WriteString(padInt(m.MinTimestamp, offsetWidth))
	b.WriteString(sepTimestampRng)
	b.WriteString(padInt(m.MaxTimestamp, offsetWidth))
	b.WriteString(sepNonce)
	b.WriteString(padNonce(m.FirstNonce))
	b.WriteString(sepNonceRange)
	b.WriteString(padNonce(m.NextNonce))
	b.WriteString(sepSize)
	b.WriteString(padUint(m.SizeInBytes, offsetWidth))
	b.WriteString(sepPrior)
	b.WriteString(padUint(m.PriorBatchFirstOffset, offsetWidth))
	b.WriteString(suffix)

	return b.String(), nil
}

// DecodeName is the inverse of EncodeName. keyspace and key are supplied by the caller
// (they are already known from the LIST prefix) since the encoded segments are
// percent-encoded and reversible but the caller virtually always already has them.
func DecodeName(objectPrefix, keyspace, key, name string) (ObjectMeta, error) {
	prefix := prefixFor(objectPrefix, keyspace, key)
	if !strings.HasPrefix(name, prefix) {
		return ObjectMeta{}, fmt.Errorf("%w: name %q does not share prefix %q", ErrCorruptName, name, prefix)
	}
	if !strings.HasSuffix(name, suffix) {
		return ObjectMeta{}, fmt.Errorf("%w: name %q missing %q suffix", ErrCorruptName, name, suffix)
	}

	rest := strings.TrimSuffix(name[len(prefix):], suffix)

	firstOffset, rest, err := cutField(rest, sepObjectOffset, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	lastOffset, rest, err := cutField(rest, sepOffsetRange, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	minTs, rest, err := cutField(rest, sepTimestamp, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	maxTs, rest, err := cutField(rest, sepTimestampRng, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	firstNonceStr, rest, err := cutFieldStr(rest, sepNonce, nonceWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	nextNonceStr, rest, err := cutFieldStr(rest, sepNonceRange, nonceWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	size, rest, err := cutField(rest, sepSize, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	prior, rest, err := cutField(rest, sepPrior, offsetWidth)
	if err != nil {
		return ObjectMeta{}, err
	}
	if rest != "" {
		return ObjectMeta{}, fmt.Errorf("%w: trailing data %q", ErrCorruptName, rest)
	}

	firstNonce, err := NonceFromString(firstNonceStr)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("%w: firstNonce: %v", ErrCorruptName, err)
	}
	nextNonce, err := NonceFromString(nextNonceStr)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("%w: nextNonce: %v", ErrCorruptName, err)
	}

	m := ObjectMeta{
		Keyspace:              keyspace,
		Key:                   key,
		FirstOffset:           firstOffset,
		LastOffset:            lastOffset,
		MinTimestamp:          int64(minTs),
		MaxTimestamp:          int64(maxTs),
		FirstNonce:            firstNonce,
		NextNonce:             nextNonce,
		SizeInBytes:           size,
		PriorBatchFirstOffset: prior,
	}

	if m.FirstOffset > m.LastOffset {
		return ObjectMeta{}, fmt.Errorf("%w: firstOffset %d > lastOffset %d", ErrCorruptName, m.FirstOffset, m.LastOffset)
	}
	if m.MinTimestamp > m.MaxTimestamp {
		return ObjectMeta{}, fmt.Errorf("%w: minTimestamp %d > maxTimestamp %d", ErrCorruptName, m.MinTimestamp, m.MaxTimestamp)
	}
	if m.FirstNonce.Cmp(m.NextNonce) >= 0 {
		return ObjectMeta{}, fmt.Errorf("%w: firstNonce must be < nextNonce", ErrCorruptName)
	}
	if m.SizeInBytes == 0 {
		return ObjectMeta{}, fmt.Errorf("%w: sizeInBytes must be > 0", ErrCorruptName)
	}

	return m, nil
}

func cutField(rest, sep string, width int) (uint64, string, error) {
	s, tail, err := cutFieldStr(rest, sep, width)
	if err != nil {
		return 0, "", err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: field after %q: %v", ErrCorruptName, sep, err)
	}
	return v, tail, nil
}

func cutFieldStr(rest, sep string, width int) (string, string, error) {
	if !strings.HasPrefix(rest, sep) {
		return "", "", fmt.Errorf("%w: expected separator %q in %q", ErrCorruptName, sep, rest)
	}
	rest = rest[len(sep):]
	if len(rest) < width {
		return "", "", fmt.Errorf("%w: field after %q shorter than %d digits", ErrCorruptName, sep, width)
	}
	field := rest[:width]
	for _, c := range field {
		if c < '0' || c > '9' {
			return "", "", fmt.Errorf("%w: field after %q is not decimal: %q", ErrCorruptName, sep, field)
		}
	}
	return field, rest[width:], nil
}

func padUint(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	return strings.Repeat("0", width-len(s)) + s
}

func padInt(v int64, width int) string {
	// timestamps are milliseconds and may theoretically be negative; the fixed width
	// scheme assumes non-negative epoch millis, which holds for every realistic clock.
	return padUint(uint64(v), width)
}

// encodeSegment percent-encodes the byte set that must be escaped in keyspace/key segments
// (§4.1): '/', '_', '%', and control bytes, since those would otherwise collide with the
// name template's own separators.
func encodeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' || c == '_' || c == '%' || c < 0x20 || c == 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func decodeSegment(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("%w: truncated percent-escape in %q", ErrCorruptName, s)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("%w: invalid percent-escape in %q: %v", ErrCorruptName, s, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}
