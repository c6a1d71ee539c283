package telegram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/crypto"
)

// ValueKind discriminates the leaf types the key-value adapter understands.
// Everything that is not binary or numeric reads back as absent.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindBinary
	KindNumber
)

// Value is a leaf read from the session tree
type Value struct {
	kind ValueKind
	bin  []byte
	num  float64
}

func Absent() Value          { return Value{kind: KindAbsent} }
func Binary(b []byte) Value  { return Value{kind: KindBinary, bin: b} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func (v Value) Kind() ValueKind  { return v.kind }
func (v Value) IsAbsent() bool   { return v.kind == KindAbsent }
func (v Value) IsBinary() bool   { return v.kind == KindBinary }
func (v Value) Bytes() []byte    { return v.bin }
func (v Value) Float64() float64 { return v.num }

// Entry is one binary leaf yielded by a range scan
type Entry struct {
	Path  string
	Value []byte
}

// ScanOptions constrains a GetMany walk
type ScanOptions struct {
	Prefix  string
	Limit   int
	Reverse bool
}

// rowStore is the persistence seam under the adapter. The production
// implementation is gormRowStore; tests substitute an in-memory one.
type rowStore interface {
	Load(ctx context.Context, sessionID string) (blob string, found bool, err error)
	Update(ctx context.Context, sessionID string, fn func(blob string) (string, error)) error
}

// EncryptedKV presents a key-path storage contract over a single encrypted
// JSON blob in the session row. It is bound to one session id at construction;
// every operation resolves to that row so sessions of the same owner never
// share storage.
type EncryptedKV struct {
	sessionID string
	store     rowStore
	cipher    *crypto.BlobCipher
	log       zerolog.Logger
}

// NewEncryptedKV creates an adapter bound to a single session row
func NewEncryptedKV(sessionID string, store rowStore, cipher *crypto.BlobCipher, log zerolog.Logger) *EncryptedKV {
	return &EncryptedKV{
		sessionID: sessionID,
		store:     store,
		cipher:    cipher,
		log:       log.With().Str("component", "session_kv").Str("session_id", sessionID).Logger(),
	}
}

// SessionID returns the row this adapter is bound to
func (kv *EncryptedKV) SessionID() string {
	return kv.sessionID
}

// Get walks the decrypted tree along the dotted path. Absence of the row,
// decrypt failure, or any missing segment reads back as Absent rather than
// an error.
func (kv *EncryptedKV) Get(ctx context.Context, path string) (Value, error) {
	tree, err := kv.loadTree(ctx)
	if err != nil {
		return Absent(), err
	}

	node := walk(tree, splitPath(path))
	return leafValue(node), nil
}

// Set merges a binary value into the tree under a pessimistic row lock.
// Non-binary values are ignored: the protocol layer persists only raw
// transport and crypto bytes through this interface, and anything else
// reaching here is a caller bug that must not pollute stored state.
// A missing row is a hard error; rows are pre-created before any write.
func (kv *EncryptedKV) Set(ctx context.Context, path string, value Value) error {
	if !value.IsBinary() {
		kv.log.Debug().Str("path", path).Msg("Ignoring non-binary value write")
		return nil
	}

	err := kv.store.Update(ctx, kv.sessionID, func(blob string) (string, error) {
		tree := parseTreeLenient(kv.cipher, blob)
		merge(tree, splitPath(path), base64.StdEncoding.EncodeToString(value.Bytes()))

		raw, err := json.Marshal(tree)
		if err != nil {
			return "", fmt.Errorf("failed to encode session tree: %w", err)
		}
		return kv.cipher.Encrypt(string(raw))
	})
	if err == domain.ErrSessionRowMissing {
		return fmt.Errorf("cannot write %q for session %s: session row does not exist", path, kv.sessionID)
	}
	return err
}

// Delete removes a leaf. Best-effort: a missing row, undecryptable blob or
// absent path all count as success.
func (kv *EncryptedKV) Delete(ctx context.Context, path string) error {
	err := kv.store.Update(ctx, kv.sessionID, func(blob string) (string, error) {
		tree := parseTreeLenient(kv.cipher, blob)
		remove(tree, splitPath(path))

		raw, err := json.Marshal(tree)
		if err != nil {
			return "", fmt.Errorf("failed to encode session tree: %w", err)
		}
		return kv.cipher.Encrypt(string(raw))
	})
	if err == domain.ErrSessionRowMissing {
		return nil
	}
	return err
}

// GetMany decrypts once and walks the tree under the given prefix, yielding
// only binary-shaped leaves sorted by path. Limit and Reverse are optional.
func (kv *EncryptedKV) GetMany(ctx context.Context, opts ScanOptions) ([]Entry, error) {
	tree, err := kv.loadTree(ctx)
	if err != nil {
		return nil, err
	}

	root := any(tree)
	base := ""
	if opts.Prefix != "" {
		root = walk(tree, splitPath(opts.Prefix))
		base = opts.Prefix
	}

	var entries []Entry
	collect(root, base, &entries)

	sort.Slice(entries, func(i, j int) bool {
		if opts.Reverse {
			return entries[i].Path > entries[j].Path
		}
		return entries[i].Path < entries[j].Path
	})

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func (kv *EncryptedKV) loadTree(ctx context.Context) (map[string]any, error) {
	blob, found, err := kv.store.Load(ctx, kv.sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]any{}, nil
	}
	return parseTreeLenient(kv.cipher, blob), nil
}

// parseTreeLenient treats a blob that cannot be decrypted or parsed as empty.
// Reads must never fail on absence; corruption surfaces on the validation
// path, not here.
func parseTreeLenient(cipher *crypto.BlobCipher, blob string) map[string]any {
	plain, err := cipher.Decrypt(blob)
	if err != nil {
		return map[string]any{}
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(plain), &tree); err != nil || tree == nil {
		return map[string]any{}
	}
	return tree
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func walk(tree map[string]any, segments []string) any {
	var node any = tree
	for _, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	return node
}

func merge(tree map[string]any, segments []string, leaf any) {
	node := tree
	for i, seg := range segments {
		if i == len(segments)-1 {
			node[seg] = leaf
			return
		}
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
}

func remove(tree map[string]any, segments []string) {
	node := tree
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(node, seg)
			return
		}
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
}

func collect(node any, path string, out *[]Entry) {
	switch n := node.(type) {
	case map[string]any:
		for key, child := range n {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			collect(child, childPath, out)
		}
	default:
		v := leafValue(node)
		if v.IsBinary() {
			*out = append(*out, Entry{Path: path, Value: v.Bytes()})
		}
	}
}

// leafValue maps a parsed JSON node to the adapter's value type. Strings that
// decode as base64 come back as binary, numbers come back as numbers, byte
// arrays come back as binary; everything else is absent.
func leafValue(node any) Value {
	switch n := node.(type) {
	case nil:
		return Absent()
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(n); err == nil {
			return Binary(decoded)
		}
		return Absent()
	case float64:
		return Number(n)
	case []any:
		buf := make([]byte, 0, len(n))
		for _, item := range n {
			f, ok := item.(float64)
			if !ok || f < 0 || f > 255 || f != float64(int(f)) {
				return Absent()
			}
			buf = append(buf, byte(f))
		}
		return Binary(buf)
	default:
		return Absent()
	}
}
