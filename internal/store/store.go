// Package store defines the key-value entity store the projector writes
// through. The indexing host supplies the durable implementation; the
// in-memory store backs the single-threaded core and tests.
package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/moxie-protocol/auction-indexer/internal/entity"
)

// Store is a synchronous get/set/delete surface over entities. Writes are
// whole-entity upserts; there is no partial update and no transaction.
type Store interface {
	Load(kind, id string) (entity.Entity, bool)
	Save(e entity.Entity)
	Remove(kind, id string)
}

// MemoryStore is a map-backed Store.
// Not thread-safe — only accessed from the single-threaded projector.
type MemoryStore struct {
	entities map[string]entity.Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]entity.Entity),
	}
}

func storeKey(kind, id string) string {
	return kind + ":" + id
}

func (m *MemoryStore) Load(kind, id string) (entity.Entity, bool) {
	e, ok := m.entities[storeKey(kind, id)]
	return e, ok
}

func (m *MemoryStore) Save(e entity.Entity) {
	m.entities[storeKey(e.EntityKind(), e.EntityID())] = e
}

func (m *MemoryStore) Remove(kind, id string) {
	delete(m.entities, storeKey(kind, id))
}

// Len returns the number of stored entities.
func (m *MemoryStore) Len() int {
	return len(m.entities)
}

// LoadOrder is a typed convenience accessor.
func LoadOrder(s Store, id string) (*entity.Order, bool) {
	e, ok := s.Load(entity.KindOrder, id)
	if !ok {
		return nil, false
	}
	o, ok := e.(*entity.Order)
	return o, ok
}

// LoadAuction is a typed convenience accessor.
func LoadAuction(s Store, id string) (*entity.AuctionDetail, bool) {
	e, ok := s.Load(entity.KindAuctionDetail, id)
	if !ok {
		return nil, false
	}
	a, ok := e.(*entity.AuctionDetail)
	return a, ok
}

// LoadUser is a typed convenience accessor.
func LoadUser(s Store, id string) (*entity.User, bool) {
	e, ok := s.Load(entity.KindUser, id)
	if !ok {
		return nil, false
	}
	u, ok := e.(*entity.User)
	return u, ok
}

// LoadToken is a typed convenience accessor.
func LoadToken(s Store, id string) (*entity.Token, bool) {
	e, ok := s.Load(entity.KindToken, id)
	if !ok {
		return nil, false
	}
	t, ok := e.(*entity.Token)
	return t, ok
}

// GetOrCreateToken returns the stored token for an address, creating a
// default record when none exists yet. All get-or-create paths go through
// explicit default construction here rather than inline nil checks at each
// call site.
func GetOrCreateToken(s Store, addr common.Address, symbol string, decimals int32) *entity.Token {
	if t, ok := LoadToken(s, addr.Hex()); ok {
		return t
	}
	t := &entity.Token{
		Address:  addr,
		Symbol:   symbol,
		Decimals: decimals,
	}
	s.Save(t)
	return t
}
