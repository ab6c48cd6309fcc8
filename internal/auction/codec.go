package auction

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The auction contract reports its clearing order as a single bytes32:
// userId in bytes [0,8), buyAmount in bytes [8,20), sellAmount in bytes
// [20,32), each big-endian and zero-padded. The byte offsets are fixed by
// the contract's packing; they are not re-derived from field widths here.
const (
	userIDBytes = 8
	amountBytes = 12
)

// maxAmount is the exclusive upper bound for a packed amount (2^96).
var maxAmount = new(big.Int).Lsh(big.NewInt(1), 8*amountBytes)

// EncodeOrder packs (userId, buyAmount, sellAmount) into the contract's
// bytes32 order representation. Amounts must be non-negative and fit in
// 96 bits.
func EncodeOrder(userID uint64, buyAmount, sellAmount *big.Int) (common.Hash, error) {
	var h common.Hash
	if buyAmount.Sign() < 0 || buyAmount.Cmp(maxAmount) >= 0 {
		return h, fmt.Errorf("encode order: buyAmount %s out of 96-bit range", buyAmount)
	}
	if sellAmount.Sign() < 0 || sellAmount.Cmp(maxAmount) >= 0 {
		return h, fmt.Errorf("encode order: sellAmount %s out of 96-bit range", sellAmount)
	}

	binary.BigEndian.PutUint64(h[0:userIDBytes], userID)
	buyAmount.FillBytes(h[userIDBytes : userIDBytes+amountBytes])
	sellAmount.FillBytes(h[userIDBytes+amountBytes:])
	return h, nil
}

// DecodeOrder unpacks the contract's bytes32 clearing-order value. The
// decode is width-exact: every bit of the input lands in exactly one field.
func DecodeOrder(h common.Hash) (userID uint64, buyAmount, sellAmount *big.Int) {
	userID = binary.BigEndian.Uint64(h[0:userIDBytes])
	buyAmount = new(big.Int).SetBytes(h[userIDBytes : userIDBytes+amountBytes])
	sellAmount = new(big.Int).SetBytes(h[userIDBytes+amountBytes:])
	return userID, buyAmount, sellAmount
}

// DecodeOrderInto is a convenience wrapper returning an Order for the given
// auction.
func DecodeOrderInto(auctionID uint64, h common.Hash) Order {
	userID, buy, sell := DecodeOrder(h)
	return Order{
		AuctionID:  auctionID,
		UserID:     userID,
		BuyAmount:  buy,
		SellAmount: sell,
	}
}
