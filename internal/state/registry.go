package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// UserRegistry maps the contract's compact userIds to bidder addresses.
// Order events carry only the userId; the registration event supplies the
// address once.
// Not thread-safe — only accessed from the single-threaded projector.
type UserRegistry struct {
	users map[uint64]common.Address
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{
		users: make(map[uint64]common.Address),
	}
}

// Register records a userId -> address binding. Re-registration with the
// same address is a no-op; a conflicting address wins last-writer, which
// can only happen on a contract redeploy.
func (r *UserRegistry) Register(userID uint64, addr common.Address) {
	r.users[userID] = addr
}

// Lookup resolves a userId. Returns false for unknown users.
func (r *UserRegistry) Lookup(userID uint64) (common.Address, bool) {
	addr, ok := r.users[userID]
	return addr, ok
}

// Snapshot returns a copy of the registry for persistence.
func (r *UserRegistry) Snapshot() map[uint64]common.Address {
	out := make(map[uint64]common.Address, len(r.users))
	for id, addr := range r.users {
		out[id] = addr
	}
	return out
}

// Restore replaces the registry contents from a snapshot.
func (r *UserRegistry) Restore(users map[uint64]common.Address) {
	for id, addr := range users {
		r.users[id] = addr
	}
}
