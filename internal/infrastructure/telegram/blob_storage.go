package telegram

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/gotd/td/session"
)

// Well-known key paths inside the session tree. The raw protocol snapshot
// lives under "session"; the auth key and datacenter are mirrored as separate
// leaves so validity checks can ask for them structurally instead of parsing
// the snapshot every time.
const (
	keySession   = "session"
	keyAuthKey   = "authKey"
	keyAuthKeyID = "authKeyId"
	keyDC        = "dc"
)

// sessionSnapshot mirrors the fields of the protocol library's serialized
// session that we index separately
type sessionSnapshot struct {
	Data struct {
		DC        int    `json:"DC"`
		AuthKey   []byte `json:"AuthKey"`
		AuthKeyID []byte `json:"AuthKeyID"`
	} `json:"Data"`
}

// SessionBlobStorage adapts the key-path adapter to the protocol client's
// storage interface. One instance per session id, same binding rule as the
// adapter underneath.
type SessionBlobStorage struct {
	kv *EncryptedKV
}

// NewSessionBlobStorage creates storage bound to one session row
func NewSessionBlobStorage(kv *EncryptedKV) *SessionBlobStorage {
	return &SessionBlobStorage{kv: kv}
}

// LoadSession returns the stored protocol snapshot, or ErrNotFound when the
// row has no snapshot yet
func (s *SessionBlobStorage) LoadSession(ctx context.Context) ([]byte, error) {
	v, err := s.kv.Get(ctx, keySession)
	if err != nil {
		return nil, err
	}
	if !v.IsBinary() || len(v.Bytes()) == 0 {
		return nil, session.ErrNotFound
	}
	return v.Bytes(), nil
}

// StoreSession writes the protocol snapshot and mirrors the auth key and
// datacenter into their own leaves. The snapshot write is the one that must
// not be lost; mirror writes are best-effort on top of the same locked row.
func (s *SessionBlobStorage) StoreSession(ctx context.Context, data []byte) error {
	if err := s.kv.Set(ctx, keySession, Binary(data)); err != nil {
		return err
	}

	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}

	if len(snap.Data.AuthKey) > 0 {
		if err := s.kv.Set(ctx, keyAuthKey, Binary(snap.Data.AuthKey)); err != nil {
			return err
		}
	}
	if len(snap.Data.AuthKeyID) > 0 {
		if err := s.kv.Set(ctx, keyAuthKeyID, Binary(snap.Data.AuthKeyID)); err != nil {
			return err
		}
	}
	if snap.Data.DC > 0 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(snap.Data.DC))
		if err := s.kv.Set(ctx, keyDC, Binary(buf)); err != nil {
			return err
		}
	}
	return nil
}

// HasAuthKey reports whether an auth key has been persisted for this session
func (s *SessionBlobStorage) HasAuthKey(ctx context.Context) (bool, error) {
	v, err := s.kv.Get(ctx, keyAuthKey)
	if err != nil {
		return false, err
	}
	if v.IsBinary() && len(v.Bytes()) > 0 {
		return true, nil
	}

	// Fall back on the snapshot itself; the mirror leaf trails the snapshot
	// write by one storage round-trip.
	raw, err := s.kv.Get(ctx, keySession)
	if err != nil {
		return false, err
	}
	if !raw.IsBinary() {
		return false, nil
	}
	var snap sessionSnapshot
	if err := json.Unmarshal(raw.Bytes(), &snap); err != nil {
		return false, nil
	}
	return len(snap.Data.AuthKey) > 0, nil
}

// DatacenterID returns the stored datacenter, 0 when unknown
func (s *SessionBlobStorage) DatacenterID(ctx context.Context) int {
	v, err := s.kv.Get(ctx, keyDC)
	if err != nil {
		return 0
	}
	if v.IsBinary() && len(v.Bytes()) == 4 {
		return int(binary.BigEndian.Uint32(v.Bytes()))
	}
	return 0
}

// ValidateBlob checks the stored tree is structurally usable: it must decrypt,
// parse, and contain both an auth key and a datacenter entry
func ValidateBlob(ctx context.Context, kv *EncryptedKV) bool {
	storage := NewSessionBlobStorage(kv)
	hasKey, err := storage.HasAuthKey(ctx)
	if err != nil || !hasKey {
		return false
	}

	if storage.DatacenterID(ctx) > 0 {
		return true
	}

	// DC may only exist inside the snapshot
	raw, err := kv.Get(ctx, keySession)
	if err != nil || !raw.IsBinary() {
		return false
	}
	var snap sessionSnapshot
	if err := json.Unmarshal(raw.Bytes(), &snap); err != nil {
		return false
	}
	return snap.Data.DC > 0
}

var _ session.Storage = (*SessionBlobStorage)(nil)
