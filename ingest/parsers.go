package ingest

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/thill/klstore"
)

// FieldParserKind enumerates the keyspace_parser/key_parser variants (§6).
type FieldParserKind string

const (
	FieldParserStatic          FieldParserKind = "static"
	FieldParserRecordHeader    FieldParserKind = "record_header"
	FieldParserRecordKey       FieldParserKind = "record_key"
	FieldParserRecordPartition FieldParserKind = "record_partition"
)

// FieldParser derives a keyspace or key string from one Kafka record. Value holds the
// static string (Static) or the header name (RecordHeader); it is unused otherwise.
type FieldParser struct {
	Kind  FieldParserKind `yaml:"kind"`
	Value string          `yaml:"value,omitempty"`
}

// NumericParserKind enumerates the nonce_parser/timestamp_parser variants (§6).
type NumericParserKind string

const (
	NumericParserNone                     NumericParserKind = "none"
	NumericParserRecordHeaderBigEndian    NumericParserKind = "record_header_big_endian"
	NumericParserRecordHeaderLittleEndian NumericParserKind = "record_header_little_endian"
	NumericParserRecordHeaderUtf8         NumericParserKind = "record_header_utf8"
	NumericParserRecordKeyBigEndian       NumericParserKind = "record_key_big_endian"
	NumericParserRecordKeyLittleEndian    NumericParserKind = "record_key_little_endian"
	NumericParserRecordKeyUtf8            NumericParserKind = "record_key_utf8"
	NumericParserRecordOffset             NumericParserKind = "record_offset"
	NumericParserRecordPartition          NumericParserKind = "record_partition"
)

// NumericParser derives a nonce or timestamp from one Kafka record. HeaderName is used
// only by the RecordHeader* variants.
type NumericParser struct {
	Kind       NumericParserKind `yaml:"kind"`
	HeaderName string            `yaml:"header_name,omitempty"`
}

func findHeader(rec *kgo.Record, name string) ([]byte, bool) {
	for _, h := range rec.Headers {
		if h.Key == name {
			return h.Value, true
		}
	}
	return nil, false
}

// parseField derives a keyspace or a key; both share the same FieldParser variants (§6).
func parseField(p FieldParser, rec *kgo.Record) (string, error) {
	switch p.Kind {
	case FieldParserStatic:
		return p.Value, nil
	case FieldParserRecordHeader:
		v, ok := findHeader(rec, p.Value)
		if !ok {
			return "", fmt.Errorf("header %q not present on record", p.Value)
		}
		return string(v), nil
	case FieldParserRecordKey:
		if rec.Key == nil {
			return "", fmt.Errorf("record has no key")
		}
		return string(rec.Key), nil
	case FieldParserRecordPartition:
		return strconv.Itoa(int(rec.Partition)), nil
	default:
		return "", fmt.Errorf("unknown field parser kind %q", p.Kind)
	}
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// numericBytes resolves the raw bytes (or decimal text, for the Utf8 variants) a
// NumericParser reads its value from.
func numericBytes(p NumericParser, rec *kgo.Record) ([]byte, bool, error) {
	switch p.Kind {
	case NumericParserRecordHeaderBigEndian, NumericParserRecordHeaderLittleEndian, NumericParserRecordHeaderUtf8:
		v, ok := findHeader(rec, p.HeaderName)
		if !ok {
			return nil, false, fmt.Errorf("header %q not present on record", p.HeaderName)
		}
		return v, true, nil
	case NumericParserRecordKeyBigEndian, NumericParserRecordKeyLittleEndian, NumericParserRecordKeyUtf8:
		if rec.Key == nil {
			return nil, false, fmt.Errorf("record has no key")
		}
		return rec.Key, true, nil
	default:
		return nil, false, nil
	}
}

// parseNonce derives an explicit nonce per §6, or nil to request auto-assignment
// (NumericParserNone).
func parseNonce(p NumericParser, rec *kgo.Record) (*klstore.Nonce, error) {
	switch p.Kind {
	case "", NumericParserNone:
		return nil, nil
	case NumericParserRecordOffset:
		n := klstore.NonceFromUint64(uint64(rec.Offset))
		return &n, nil
	case NumericParserRecordPartition:
		n := klstore.NonceFromUint64(uint64(rec.Partition))
		return &n, nil
	}

	b, _, err := numericBytes(p, rec)
	if err != nil {
		return nil, err
	}

	switch p.Kind {
	case NumericParserRecordHeaderBigEndian, NumericParserRecordKeyBigEndian:
		n := bigIntNonce(new(big.Int).SetBytes(b))
		return &n, nil
	case NumericParserRecordHeaderLittleEndian, NumericParserRecordKeyLittleEndian:
		n := bigIntNonce(new(big.Int).SetBytes(reversed(b)))
		return &n, nil
	case NumericParserRecordHeaderUtf8, NumericParserRecordKeyUtf8:
		nonce, err := klstore.NonceFromString(string(b))
		if err != nil {
			return nil, fmt.Errorf("parse utf8 nonce: %w", err)
		}
		return &nonce, nil
	default:
		return nil, fmt.Errorf("unknown nonce parser kind %q", p.Kind)
	}
}

func bigIntNonce(v *big.Int) klstore.Nonce {
	n, err := klstore.NonceFromString(v.String())
	if err != nil {
		// v.String() of a non-negative big.Int is always a valid decimal nonce.
		panic(err)
	}
	return n
}

// parseTimestamp derives an explicit epoch-millis timestamp per §6, or nil to request
// wall-clock assignment (NumericParserNone).
func parseTimestamp(p NumericParser, rec *kgo.Record) (*int64, error) {
	switch p.Kind {
	case "", NumericParserNone:
		return nil, nil
	case NumericParserRecordOffset:
		ts := rec.Offset
		return &ts, nil
	case NumericParserRecordPartition:
		ts := int64(rec.Partition)
		return &ts, nil
	}

	b, _, err := numericBytes(p, rec)
	if err != nil {
		return nil, err
	}

	switch p.Kind {
	case NumericParserRecordHeaderBigEndian, NumericParserRecordKeyBigEndian:
		if len(b) != 8 {
			return nil, fmt.Errorf("timestamp field must be 8 bytes, got %d", len(b))
		}
		ts := int64(binary.BigEndian.Uint64(b))
		return &ts, nil
	case NumericParserRecordHeaderLittleEndian, NumericParserRecordKeyLittleEndian:
		if len(b) != 8 {
			return nil, fmt.Errorf("timestamp field must be 8 bytes, got %d", len(b))
		}
		ts := int64(binary.LittleEndian.Uint64(b))
		return &ts, nil
	case NumericParserRecordHeaderUtf8, NumericParserRecordKeyUtf8:
		v, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse utf8 timestamp: %w", err)
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown timestamp parser kind %q", p.Kind)
	}
}
