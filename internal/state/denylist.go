package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// Denylist is the immutable set of token addresses and auction ids the
// indexer skips. It is built once at construction and injected into the
// projector; there is no process-wide mutable blacklist.
type Denylist struct {
	tokens   map[common.Address]struct{}
	auctions map[uint64]struct{}
}

func NewDenylist(tokens []common.Address, auctionIDs []uint64) *Denylist {
	d := &Denylist{
		tokens:   make(map[common.Address]struct{}, len(tokens)),
		auctions: make(map[uint64]struct{}, len(auctionIDs)),
	}
	for _, t := range tokens {
		d.tokens[t] = struct{}{}
	}
	for _, id := range auctionIDs {
		d.auctions[id] = struct{}{}
	}
	return d
}

// BlocksToken reports whether a token address is denylisted.
func (d *Denylist) BlocksToken(addr common.Address) bool {
	_, ok := d.tokens[addr]
	return ok
}

// BlocksAuction reports whether an auction id is denylisted.
func (d *Denylist) BlocksAuction(auctionID uint64) bool {
	_, ok := d.auctions[auctionID]
	return ok
}
