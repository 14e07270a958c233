package klstore

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"sort"

	"github.com/thill/klstore/backend"
)

// ReaderConfig recognizes the reader key in spec.md §6.
type ReaderConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
}

const defaultDefaultPageSize = 1000

func (c *ReaderConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.DefaultPageSize = defaultDefaultPageSize
	f.IntVar(&c.DefaultPageSize, prefix+".default-page-size", c.DefaultPageSize, "page size used by read_page when the caller does not specify one")
}

// Direction is the paging direction for read_page (§4.6).
type Direction int

const (
	Forward Direction = iota
	Backward
)

type startKind int

const (
	startEarliest startKind = iota
	startLatest
	startOffset
	startTimestamp
	startNonce
	startContinuation
)

// StartPosition anchors a read_page call (§4.6). Construct one with Earliest, Latest,
// AtOffset, AtTimestamp, AtNonce, or AtContinuation.
type StartPosition struct {
	kind         startKind
	offset       uint64
	timestamp    int64
	nonce        Nonce
	continuation []byte
}

func Earliest() StartPosition { return StartPosition{kind: startEarliest} }
func Latest() StartPosition   { return StartPosition{kind: startLatest} }
func AtOffset(o uint64) StartPosition {
	return StartPosition{kind: startOffset, offset: o}
}
func AtTimestamp(t int64) StartPosition {
	return StartPosition{kind: startTimestamp, timestamp: t}
}
func AtNonce(n Nonce) StartPosition {
	return StartPosition{kind: startNonce, nonce: n}
}
func AtContinuation(token []byte) StartPosition {
	return StartPosition{kind: startContinuation, continuation: token}
}

// continuationToken is the decoded form of an opaque token (§4.6): direction, the anchor
// object's name, and the intra-object record index to resume from. It is intentionally
// self-sufficient — the reader holds no hidden state between pages.
type continuationToken struct {
	direction   Direction
	objectName  string
	recordIndex int
}

func encodeContinuation(t continuationToken) []byte {
	var idxBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(idxBuf[:], uint64(t.recordIndex))

	buf := make([]byte, 0, 1+n+len(t.objectName))
	buf = append(buf, byte(t.direction))
	buf = append(buf, idxBuf[:n]...)
	buf = append(buf, []byte(t.objectName)...)
	return buf
}

func decodeContinuation(b []byte) (continuationToken, error) {
	if len(b) < 2 {
		return continuationToken{}, fmt.Errorf("%w: truncated continuation token", ErrCorruptName)
	}
	dir := Direction(b[0])
	idx, n := binary.Uvarint(b[1:])
	if n <= 0 {
		return continuationToken{}, fmt.Errorf("%w: invalid continuation token index", ErrCorruptName)
	}
	name := string(b[1+n:])
	if name == "" {
		return continuationToken{}, fmt.Errorf("%w: continuation token missing object name", ErrCorruptName)
	}
	return continuationToken{direction: dir, recordIndex: int(idx), objectName: name}, nil
}

// Reader is the Page Reader (C6): stateless over a sequence of read_page calls, each of
// which derives everything it needs from the object listing and the supplied token.
type Reader struct {
	store        backend.ObjectStore
	objectPrefix string
	cfg          ReaderConfig
}

func NewReader(store backend.ObjectStore, objectPrefix string, cfg ReaderConfig) *Reader {
	return &Reader{store: store, objectPrefix: objectPrefix, cfg: cfg}
}

// ReadPage implements read_page (§4.6). pageSize <= 0 uses the configured default.
func (r *Reader) ReadPage(ctx context.Context, keyspace, key string, dir Direction, start StartPosition, pageSize int) ([]Record, []byte, error) {
	if pageSize <= 0 {
		pageSize = r.cfg.DefaultPageSize
	}
	if pageSize <= 0 {
		pageSize = defaultDefaultPageSize
	}

	prefix := prefixFor(r.objectPrefix, keyspace, key)
	metas, err := r.listDominant(ctx, prefix, keyspace, key)
	if err != nil {
		return nil, nil, err
	}
	if len(metas) == 0 {
		return nil, nil, nil
	}

	objIdx, recordIdx, resolvedDir, err := r.resolve(metas, dir, start)
	if err != nil {
		return nil, nil, err
	}
	if objIdx < 0 {
		return nil, nil, nil
	}

	if resolvedDir == Forward {
		return r.pageForward(ctx, keyspace, key, metas, objIdx, recordIdx, pageSize)
	}
	return r.pageBackward(ctx, keyspace, key, metas, objIdx, recordIdx, pageSize)
}

// listDominant lists every object for (keyspace,key), decodes each name, and applies the
// overlap-dominance rule from §4.4/§8 (S6): when one object's range strictly contains
// another's, the contained one is a compaction-crash leftover and is dropped. The result
// stays in ascending firstOffset order.
func (r *Reader) listDominant(ctx context.Context, prefix, keyspace, key string) ([]ObjectMeta, error) {
	names, err := r.store.List(ctx, prefix, backend.ListOptions{})
	if err = classifyStoreErr("list", err); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	metas := make([]ObjectMeta, len(names))
	for i, n := range names {
		m, err := DecodeName(r.objectPrefix, keyspace, key, n)
		if err != nil {
			return nil, err
		}
		metas[i] = m
	}

	return resolveOverlaps(metas), nil
}

func resolveOverlaps(metas []ObjectMeta) []ObjectMeta {
	out := make([]ObjectMeta, 0, len(metas))
	for i, m := range metas {
		dominated := false
		for j, o := range metas {
			if j == i {
				continue
			}
			strictlyContains := o.FirstOffset <= m.FirstOffset && o.LastOffset >= m.LastOffset &&
				(o.FirstOffset != m.FirstOffset || o.LastOffset != m.LastOffset)
			if strictlyContains {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, m)
		}
	}
	return out
}

// resolve turns a StartPosition into (object index within metas, intra-object record
// index, effective direction). objIdx == -1 means an empty page.
func (r *Reader) resolve(metas []ObjectMeta, dir Direction, start StartPosition) (int, int, Direction, error) {
	switch start.kind {
	case startEarliest:
		return 0, 0, dir, nil

	case startLatest:
		last := metas[len(metas)-1]
		return len(metas) - 1, int(last.RecordCount()) - 1, dir, nil

	case startOffset:
		return r.resolveOffset(metas, start.offset, dir)

	case startTimestamp:
		return r.resolveTimestamp(metas, start.timestamp, dir)

	case startNonce:
		return r.resolveNonce(metas, start.nonce, dir)

	case startContinuation:
		tok, err := decodeContinuation(start.continuation)
		if err != nil {
			return 0, 0, dir, err
		}
		anchor, err := DecodeName(r.objectPrefix, metas[0].Keyspace, metas[0].Key, tok.objectName)
		if err != nil {
			return 0, 0, dir, err
		}
		targetOffset := anchor.FirstOffset + uint64(tok.recordIndex)
		objIdx, recordIdx, _, err := r.resolveOffset(metas, targetOffset, tok.direction)
		return objIdx, recordIdx, tok.direction, err

	default:
		return 0, 0, dir, fmt.Errorf("%w: unknown start position", ErrConfigInvalid)
	}
}

// resolveOffset finds the object whose [firstOffset,lastOffset] contains o. Offsets are
// strictly increasing across objects (§3 invariants), so this is a valid binary search.
func (r *Reader) resolveOffset(metas []ObjectMeta, o uint64, dir Direction) (int, int, Direction, error) {
	i := sort.Search(len(metas), func(i int) bool { return metas[i].LastOffset >= o })
	if i >= len(metas) || o < metas[i].FirstOffset {
		return -1, 0, dir, nil
	}
	return i, int(o - metas[i].FirstOffset), dir, nil
}

// resolveNonce finds the object whose half-open [firstNonce,nextNonce) range contains n,
// per the Forward relation, or the nearest preceding object per Backward. Nonce ranges are
// strictly increasing across objects (§3 invariants), so binary search applies.
func (r *Reader) resolveNonce(metas []ObjectMeta, n Nonce, dir Direction) (int, int, Direction, error) {
	if dir == Forward {
		i := sort.Search(len(metas), func(i int) bool { return metas[i].NextNonce.Cmp(n) > 0 })
		if i >= len(metas) {
			return -1, 0, dir, nil
		}
		idx, err := firstRecordIndexAtLeastNonce(r, metas[i], n)
		if err != nil {
			return 0, 0, dir, err
		}
		return i, idx, dir, nil
	}

	i := sort.Search(len(metas), func(i int) bool { return metas[i].FirstNonce.Cmp(n) > 0 })
	i--
	if i < 0 {
		return -1, 0, dir, nil
	}
	idx, err := lastRecordIndexAtMostNonce(r, metas[i], n)
	if err != nil {
		return 0, 0, dir, err
	}
	return i, idx, dir, nil
}

// resolveTimestamp scans object ranges in order (not binary search: timestamps are not
// required monotonic across objects, §3) for the lowest (Forward) or highest (Backward)
// object satisfying the direction's relation, then the first qualifying record within it.
func (r *Reader) resolveTimestamp(metas []ObjectMeta, t int64, dir Direction) (int, int, Direction, error) {
	if dir == Forward {
		for i, m := range metas {
			if m.MaxTimestamp >= t {
				idx, err := firstRecordIndexAtLeastTimestamp(r, m, t)
				if err != nil {
					return 0, 0, dir, err
				}
				return i, idx, dir, nil
			}
		}
		return -1, 0, dir, nil
	}

	for i := len(metas) - 1; i >= 0; i-- {
		m := metas[i]
		if m.MinTimestamp <= t {
			idx, err := lastRecordIndexAtMostTimestamp(r, m, t)
			if err != nil {
				return 0, 0, dir, err
			}
			return i, idx, dir, nil
		}
	}
	return -1, 0, dir, nil
}

func (r *Reader) getObject(ctx context.Context, m ObjectMeta) ([]Record, error) {
	name, err := EncodeName(r.objectPrefix, m)
	if err != nil {
		return nil, err
	}
	body, err := r.store.Get(ctx, name, nil)
	if err = classifyStoreErr("get", err); err != nil {
		return nil, fmt.Errorf("get %q: %w", name, err)
	}
	return DecodeBatch(body, m.FirstOffset)
}

func firstRecordIndexAtLeastNonce(r *Reader, m ObjectMeta, n Nonce) (int, error) {
	records, err := r.getObject(context.Background(), m)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if rec.Nonce.Cmp(n) >= 0 {
			return i, nil
		}
	}
	return len(records), nil
}

func lastRecordIndexAtMostNonce(r *Reader, m ObjectMeta, n Nonce) (int, error) {
	records, err := r.getObject(context.Background(), m)
	if err != nil {
		return 0, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Nonce.Cmp(n) <= 0 {
			return i, nil
		}
	}
	return 0, nil
}

func firstRecordIndexAtLeastTimestamp(r *Reader, m ObjectMeta, t int64) (int, error) {
	records, err := r.getObject(context.Background(), m)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if rec.Timestamp >= t {
			return i, nil
		}
	}
	return len(records), nil
}

func lastRecordIndexAtMostTimestamp(r *Reader, m ObjectMeta, t int64) (int, error) {
	records, err := r.getObject(context.Background(), m)
	if err != nil {
		return 0, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Timestamp <= t {
			return i, nil
		}
	}
	return 0, nil
}

func (r *Reader) pageForward(ctx context.Context, keyspace, key string, metas []ObjectMeta, objIdx, recordIdx, pageSize int) ([]Record, []byte, error) {
	var page []Record

	for objIdx < len(metas) && len(page) < pageSize {
		records, err := r.getObject(ctx, metas[objIdx])
		if err != nil {
			return nil, nil, err
		}
		for recordIdx < len(records) && len(page) < pageSize {
			page = append(page, records[recordIdx])
			recordIdx++
		}
		if recordIdx >= len(records) {
			objIdx++
			recordIdx = 0
		}
	}

	if objIdx >= len(metas) {
		return page, nil, nil
	}

	name, err := EncodeName(r.objectPrefix, metas[objIdx])
	if err != nil {
		return nil, nil, err
	}
	token := encodeContinuation(continuationToken{direction: Forward, objectName: name, recordIndex: recordIdx})
	return page, token, nil
}

func (r *Reader) pageBackward(ctx context.Context, keyspace, key string, metas []ObjectMeta, objIdx, recordIdx int, pageSize int) ([]Record, []byte, error) {
	var page []Record
	// tokenObjIdx/tokenRecordIdx track the last object actually read, since the -1
	// sentinel recordIndex is always anchored relative to that object's firstOffset
	// (resolve() recovers the preceding record via unsigned wraparound). objIdx itself
	// gets decremented past it to probe whether more data remains, so the token must
	// not be built from objIdx directly once that decrement has happened.
	tokenObjIdx, tokenRecordIdx := objIdx, recordIdx

	for objIdx >= 0 && len(page) < pageSize {
		records, err := r.getObject(ctx, metas[objIdx])
		if err != nil {
			return nil, nil, err
		}
		if recordIdx < 0 || recordIdx >= len(records) {
			recordIdx = len(records) - 1
		}
		for recordIdx >= 0 && len(page) < pageSize {
			page = append(page, records[recordIdx])
			recordIdx--
		}
		tokenObjIdx, tokenRecordIdx = objIdx, recordIdx
		if recordIdx < 0 {
			objIdx--
			recordIdx = -1
		}
	}

	if objIdx < 0 {
		return page, nil, nil
	}

	name, err := EncodeName(r.objectPrefix, metas[tokenObjIdx])
	if err != nil {
		return nil, nil, err
	}
	token := encodeContinuation(continuationToken{direction: Backward, objectName: name, recordIndex: tokenRecordIdx})
	return page, token, nil
}
