package klstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/big"
)

// crcTable is Castagnoli CRC-32, the cheap streaming checksum klstore uses to cover a
// batch's header+records (§3 footer checksum; algorithm choice is implementation-free per
// spec, see SPEC_FULL.md's "Checksum algorithm" decision).
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record is one persisted record within a batch (§3). Offset is populated on decode from
// the object name's firstOffset plus positional index; it is never itself encoded in the
// body, which only needs to be self-describing given an external firstOffset.
type Record struct {
	Offset    uint64
	Nonce     Nonce
	Timestamp int64
	Payload   []byte
}

// EncodeBatch serializes a non-empty, offset-contiguous run of records into a single
// object body (C3). Record framing is varint length-prefixed: length | timestamp (8B BE) |
// nonce-len (varint) | nonce bytes (BE) | payload-len (varint) | payload. A 4-byte header carries the record
// count; a trailing 4-byte CRC32C footer covers everything preceding it.
func EncodeBatch(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: batch must be non-empty", ErrCorruptBatch)
	}

	var body bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(records)))
	body.Write(countBuf[:])

	var varintBuf [binary.MaxVarintLen64]byte
	for _, r := range records {
		nonceBytes := r.Nonce.v.Bytes()

		var payload bytes.Buffer
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(r.Timestamp))
		payload.Write(tsBuf[:])

		n := binary.PutUvarint(varintBuf[:], uint64(len(nonceBytes)))
		payload.Write(varintBuf[:n])
		payload.Write(nonceBytes)

		n = binary.PutUvarint(varintBuf[:], uint64(len(r.Payload)))
		payload.Write(varintBuf[:n])
		payload.Write(r.Payload)

		n = binary.PutUvarint(varintBuf[:], uint64(payload.Len()))
		body.Write(varintBuf[:n])
		body.Write(payload.Bytes())
	}

	checksum := crc32.Checksum(body.Bytes(), crcTable)
	var checksumBuf [4]byte
	binary.BigEndian.PutUint32(checksumBuf[:], checksum)
	body.Write(checksumBuf[:])

	return body.Bytes(), nil
}

// DecodeBatch parses a batch body, assigning offsets starting at firstOffset in record
// order (C3, C6). The checksum is always verified; corruption never silently drops a
// record (§7: "readers skip no records silently").
func DecodeBatch(body []byte, firstOffset uint64) ([]Record, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: body too short (%d bytes)", ErrCorruptBatch, len(body))
	}

	footerStart := len(body) - 4
	want := binary.BigEndian.Uint32(body[footerStart:])
	got := crc32.Checksum(body[:footerStart], crcTable)
	if want != got {
		return nil, fmt.Errorf("%w: checksum mismatch (want %x got %x)", ErrCorruptBatch, want, got)
	}

	r := bytes.NewReader(body[4:footerStart])
	count := binary.BigEndian.Uint32(body[:4])

	records := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		recLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading record %d length: %v", ErrCorruptBatch, i, err)
		}
		rec := make([]byte, recLen)
		if _, err := r.Read(rec); err != nil {
			return nil, fmt.Errorf("%w: reading record %d body: %v", ErrCorruptBatch, i, err)
		}

		if len(rec) < 8 {
			return nil, fmt.Errorf("%w: record %d shorter than timestamp field", ErrCorruptBatch, i)
		}
		ts := int64(binary.BigEndian.Uint64(rec[:8]))
		rest := bytes.NewReader(rec[8:])

		nonceLen, err := binary.ReadUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d nonce length: %v", ErrCorruptBatch, i, err)
		}
		nonceBytes := make([]byte, nonceLen)
		if _, err := rest.Read(nonceBytes); err != nil {
			return nil, fmt.Errorf("%w: record %d nonce bytes: %v", ErrCorruptBatch, i, err)
		}

		payloadLen, err := binary.ReadUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d payload length: %v", ErrCorruptBatch, i, err)
		}
		payload := make([]byte, payloadLen)
		if _, err := rest.Read(payload); err != nil {
			return nil, fmt.Errorf("%w: record %d payload bytes: %v", ErrCorruptBatch, i, err)
		}

		records = append(records, Record{
			Offset:    firstOffset + uint64(i),
			Nonce:     nonceFromBytes(nonceBytes),
			Timestamp: ts,
			Payload:   payload,
		})
	}

	return records, nil
}

func nonceFromBytes(b []byte) Nonce {
	v := new(big.Int).SetBytes(b)
	return Nonce{v: v}
}
