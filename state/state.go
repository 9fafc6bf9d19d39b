// Package state correlates the round trips of a protocol flow. Each flow has a
// FlowState record under a primary key (the OAuth2 "state" value), and
// secondary identifiers that show up later in the flow (nonce, logout state,
// session id, subject) are indexed back to that key.
package state

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/storage"
	"github.com/sirupsen/logrus"
)

// Interface is the correlation engine used by services.
type Interface interface {
	// GetState returns the flow state stored under key.
	GetState(ctx context.Context, key string) (*FlowState, error)
	// StoreItem sets the item of the given type on an existing flow state.
	StoreItem(ctx context.Context, item message.Message, itemType, key string) error
	// GetItem returns the item of the given type, checked against schema.
	GetItem(ctx context.Context, schema message.Schema, itemType, key string) (message.Message, error)
	// GetIssuer returns the issuer the flow was created for.
	GetIssuer(ctx context.Context, key string) (string, error)
	// ExtendRequestArgs copies params from a stored item into a copy of args.
	ExtendRequestArgs(ctx context.Context, args message.Message, schema message.Schema, itemType, key string, params []string, preferVerified bool) (message.Message, error)
	// MultipleExtendRequestArgs is ExtendRequestArgs over several items of
	// one flow, later item types win.
	MultipleExtendRequestArgs(ctx context.Context, args message.Message, key string, params, itemTypes []string, preferVerified bool) (message.Message, error)

	StoreXToState(ctx context.Context, value, key string, typ IdentifierType) error
	GetStateByX(ctx context.Context, value string, typ IdentifierType) (string, error)

	StoreNonceToState(ctx context.Context, nonce, key string) error
	GetStateByNonce(ctx context.Context, nonce string) (string, error)
	StoreLogoutStateToState(ctx context.Context, logoutState, key string) error
	GetStateByLogoutState(ctx context.Context, logoutState string) (string, error)
	StoreSIDToState(ctx context.Context, sid, key string) error
	GetStateBySID(ctx context.Context, sid string) (string, error)
	StoreSubToState(ctx context.Context, sub, key string) error
	GetStateBySub(ctx context.Context, sub string) (string, error)

	// CreateState starts a flow for issuer. If key is empty a random one is
	// generated. The key is returned.
	CreateState(ctx context.Context, issuer, key string) (string, error)
	// RemoveState deletes the flow and every index entry registered for it.
	RemoveState(ctx context.Context, key string) error
}

var _ Interface = (*Manager)(nil)

const (
	// 43 characters of a 62 character alphabet carry at least 256 bits
	keyLength   = 43
	keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// Manager implements Interface on top of a storage.Storage.
type Manager struct {
	store storage.Storage
	log   logrus.FieldLogger
	locks *keyLocks
}

// New returns a Manager persisting to store.
func New(store storage.Storage, opts ...Option) *Manager {
	l := logrus.New()
	l.Out = io.Discard

	m := &Manager{
		store: store,
		log:   l,
		locks: newKeyLocks(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) GetState(ctx context.Context, key string) (*FlowState, error) {
	if key == "" {
		return nil, &NotFoundError{Key: key}
	}
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if storage.IsNotFoundErr(err) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("getting flow state %s: %w", key, err)
	}
	fs, err := decodeFlowState(data)
	if err != nil {
		return nil, fmt.Errorf("decoding flow state %s: %w", key, err)
	}
	return fs, nil
}

func (m *Manager) StoreItem(ctx context.Context, item message.Message, itemType, key string) error {
	if itemType == "" || itemType == issuerField {
		return fmt.Errorf("%q is not a valid item type", itemType)
	}
	if key == "" {
		return &NotFoundError{Key: key}
	}

	err := m.mutate(ctx, key, func(old string, found bool) (string, error) {
		if !found {
			return "", &NotFoundError{Key: key}
		}
		fs, err := decodeFlowState(old)
		if err != nil {
			return "", fmt.Errorf("decoding flow state %s: %w", key, err)
		}
		fs.Items[itemType] = item.Clone()
		return fs.encode()
	})
	if err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{"key": key, "item": itemType}).Debug("stored item")
	return nil
}

func (m *Manager) GetItem(ctx context.Context, schema message.Schema, itemType, key string) (message.Message, error) {
	fs, err := m.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	item, ok := fs.Item(itemType)
	if !ok {
		return nil, &NotFoundError{Key: key, Item: itemType}
	}
	if err := schema.Verify(item); err != nil {
		return nil, fmt.Errorf("stored %s: %w", itemType, err)
	}
	return item, nil
}

func (m *Manager) GetIssuer(ctx context.Context, key string) (string, error) {
	fs, err := m.GetState(ctx, key)
	if err != nil {
		return "", err
	}
	return fs.Issuer, nil
}

func (m *Manager) ExtendRequestArgs(ctx context.Context, args message.Message, schema message.Schema, itemType, key string, params []string, preferVerified bool) (message.Message, error) {
	ret := args.Clone()

	item, err := m.GetItem(ctx, schema, itemType, key)
	if err != nil {
		if IsNotFound(err) {
			return ret, nil
		}
		return nil, err
	}

	copyParams(ret, item, params, preferVerified)
	return ret, nil
}

func (m *Manager) MultipleExtendRequestArgs(ctx context.Context, args message.Message, key string, params, itemTypes []string, preferVerified bool) (message.Message, error) {
	fs, err := m.GetState(ctx, key)
	if err != nil {
		return nil, err
	}

	ret := args.Clone()
	for _, typ := range itemTypes {
		item, ok := fs.Items[typ]
		if !ok {
			continue
		}
		copyParams(ret, item, params, preferVerified)
	}
	return ret, nil
}

func copyParams(dst, src message.Message, params []string, preferVerified bool) {
	for _, p := range params {
		if preferVerified {
			if v, ok := src[message.VerifiedClaimName(p)]; ok {
				dst[p] = v
				continue
			}
		}
		if v, ok := src[p]; ok {
			dst[p] = v
		}
	}
}

func (m *Manager) StoreXToState(ctx context.Context, value, key string, typ IdentifierType) error {
	ik, err := indexKey(typ, value)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, ik, key); err != nil {
		return fmt.Errorf("storing %s index: %w", typ, err)
	}

	id := identifier{Type: typ, Value: value}
	if err := m.mutate(ctx, reverseKey(key), func(old string, found bool) (string, error) {
		var ri reverseIndex
		if found {
			var derr error
			if ri, derr = decodeReverseIndex(old); derr != nil {
				return "", derr
			}
		}
		return ri.add(id).encode()
	}); err != nil {
		return fmt.Errorf("updating reverse index for %s: %w", key, err)
	}

	m.log.WithFields(logrus.Fields{"key": key, "type": typ}).Debug("registered identifier")
	return nil
}

func (m *Manager) GetStateByX(ctx context.Context, value string, typ IdentifierType) (string, error) {
	ik, err := indexKey(typ, value)
	if err != nil {
		return "", err
	}
	key, err := m.store.Get(ctx, ik)
	if err != nil {
		if storage.IsNotFoundErr(err) {
			return "", &NotFoundError{Key: ik}
		}
		return "", fmt.Errorf("looking up %s: %w", typ, err)
	}
	return key, nil
}

func (m *Manager) StoreNonceToState(ctx context.Context, nonce, key string) error {
	return m.StoreXToState(ctx, nonce, key, Nonce)
}

func (m *Manager) GetStateByNonce(ctx context.Context, nonce string) (string, error) {
	return m.GetStateByX(ctx, nonce, Nonce)
}

func (m *Manager) StoreLogoutStateToState(ctx context.Context, logoutState, key string) error {
	return m.StoreXToState(ctx, logoutState, key, LogoutState)
}

func (m *Manager) GetStateByLogoutState(ctx context.Context, logoutState string) (string, error) {
	return m.GetStateByX(ctx, logoutState, LogoutState)
}

func (m *Manager) StoreSIDToState(ctx context.Context, sid, key string) error {
	return m.StoreXToState(ctx, sid, key, SessionID)
}

func (m *Manager) GetStateBySID(ctx context.Context, sid string) (string, error) {
	return m.GetStateByX(ctx, sid, SessionID)
}

func (m *Manager) StoreSubToState(ctx context.Context, sub, key string) error {
	return m.StoreXToState(ctx, sub, key, SubjectID)
}

func (m *Manager) GetStateBySub(ctx context.Context, sub string) (string, error) {
	return m.GetStateByX(ctx, sub, SubjectID)
}

// CreateState writes a new flow state holding only the issuer. An existing
// record under the same key is replaced.
func (m *Manager) CreateState(ctx context.Context, issuer, key string) (string, error) {
	if issuer == "" {
		return "", ErrMissingIssuer
	}

	if key == "" {
		var err error
		if key, err = newKey(); err != nil {
			return "", err
		}
	} else if isReservedKey(key) {
		return "", &InvalidKeyError{Key: key}
	}

	fs := &FlowState{Issuer: issuer}
	data, err := fs.encode()
	if err != nil {
		return "", err
	}

	unlock := m.locks.lock(key)
	defer unlock()
	if err := m.store.Set(ctx, key, data); err != nil {
		return "", fmt.Errorf("storing flow state %s: %w", key, err)
	}

	m.log.WithFields(logrus.Fields{"key": key, "issuer": issuer}).Debug("created flow state")
	return key, nil
}

// RemoveState deletes the flow state, then each index entry in its reverse
// index that still points at key, then the reverse index itself.
func (m *Manager) RemoveState(ctx context.Context, key string) error {
	if err := m.deleteState(ctx, key); err != nil {
		return err
	}

	rk := reverseKey(key)
	unlock := m.locks.lock(rk)
	defer unlock()

	data, err := m.store.Get(ctx, rk)
	if err != nil {
		if storage.IsNotFoundErr(err) {
			m.log.WithField("key", key).Debug("removed flow state")
			return nil
		}
		return fmt.Errorf("getting reverse index for %s: %w", key, err)
	}
	ri, err := decodeReverseIndex(data)
	if err != nil {
		return err
	}

	for _, id := range ri {
		ik, err := indexKey(id.Type, id.Value)
		if err != nil {
			m.log.WithError(err).WithField("key", key).Warn("skipping unknown reverse index entry")
			continue
		}
		current, err := m.store.Get(ctx, ik)
		if err != nil {
			if storage.IsNotFoundErr(err) {
				continue
			}
			return fmt.Errorf("getting %s index: %w", id.Type, err)
		}
		if current != key {
			// re-registered against another flow since
			continue
		}
		if err := m.store.Delete(ctx, ik); err != nil {
			return fmt.Errorf("deleting %s index: %w", id.Type, err)
		}
	}

	if err := m.store.Delete(ctx, rk); err != nil {
		return fmt.Errorf("deleting reverse index for %s: %w", key, err)
	}

	m.log.WithFields(logrus.Fields{"key": key, "identifiers": len(ri)}).Debug("removed flow state")
	return nil
}

// mutate performs a read-merge-write of key. Writers in this process are
// serialized by a per-key lock, and when the store supports atomic updates the
// write goes through it so other processes are covered too.
func (m *Manager) mutate(ctx context.Context, key string, fn storage.UpdateFunc) error {
	unlock := m.locks.lock(key)
	defer unlock()

	if u, ok := m.store.(storage.Updater); ok {
		return u.Update(ctx, key, fn)
	}

	found := true
	old, err := m.store.Get(ctx, key)
	if err != nil {
		if !storage.IsNotFoundErr(err) {
			return err
		}
		found = false
	}
	nv, err := fn(old, found)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, nv)
}

// deleteState deletes the record under the key's lock, so a write that read
// it before can't store it again afterwards.
func (m *Manager) deleteState(ctx context.Context, key string) error {
	unlock := m.locks.lock(key)
	defer unlock()
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting flow state %s: %w", key, err)
	}
	return nil
}

// newKey returns a random alphanumeric key that does not match any reserved
// pattern.
func newKey() (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	for {
		b := make([]byte, keyLength)
		for i := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generating state key: %w", err)
			}
			b[i] = keyAlphabet[n.Int64()]
		}
		if k := string(b); !isReservedKey(k) {
			return k, nil
		}
	}
}
