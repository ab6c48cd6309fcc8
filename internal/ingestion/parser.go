package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/moxie-protocol/auction-indexer/internal/event"
)

// Wire formats for events published by the chain watcher. Amounts travel
// as 0x-hex strings so 96-bit values survive JSON without float loss.

type chainRefWire struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint32 `json:"log_index"`
	Timestamp   int64  `json:"timestamp"` // unix seconds, block time
}

type newAuctionWire struct {
	chainRefWire
	AuctionID                    uint64       `json:"auction_id"`
	AuctioningToken              string       `json:"auctioning_token"`
	BiddingToken                 string       `json:"bidding_token"`
	AuctioningTokenDecimals      int32        `json:"auctioning_token_decimals"`
	BiddingTokenDecimals         int32        `json:"bidding_token_decimals"`
	AuctioningTokenSymbol        string       `json:"auctioning_token_symbol"`
	BiddingTokenSymbol           string       `json:"bidding_token_symbol"`
	AuctionedSellAmount          *hexutil.Big `json:"auctioned_sell_amount"`
	MinBuyAmount                 *hexutil.Big `json:"min_buy_amount"`
	MinimumBiddingAmountPerOrder *hexutil.Big `json:"minimum_bidding_amount_per_order"`
	MinFundingThreshold          *hexutil.Big `json:"min_funding_threshold"`
	UserID                       uint64       `json:"user_id"`
	EndDate                      int64        `json:"end_date"`
	CancellationEndDate          int64        `json:"cancellation_end_date"`
	AllowListContract            string       `json:"allow_list_contract"`
	AllowListData                string       `json:"allow_list_data"`
}

type newUserWire struct {
	chainRefWire
	UserID  uint64 `json:"user_id"`
	Address string `json:"address"`
}

type sellOrderWire struct {
	chainRefWire
	AuctionID  uint64       `json:"auction_id"`
	UserID     uint64       `json:"user_id"`
	BuyAmount  *hexutil.Big `json:"buy_amount"`
	SellAmount *hexutil.Big `json:"sell_amount"`
}

type auctionClearedWire struct {
	chainRefWire
	AuctionID            uint64       `json:"auction_id"`
	SoldAuctioningTokens *hexutil.Big `json:"sold_auctioning_tokens"`
	SoldBiddingTokens    *hexutil.Big `json:"sold_bidding_tokens"`
	ClearingPriceOrder   string       `json:"clearing_price_order"`
}

func (w chainRefWire) toChainRef() (event.ChainRef, error) {
	if len(w.TxHash) != 66 {
		return event.ChainRef{}, fmt.Errorf("bad tx hash %q", w.TxHash)
	}
	return event.ChainRef{
		TxHash:      common.HexToHash(w.TxHash),
		BlockNumber: w.BlockNumber,
		LogIndex:    w.LogIndex,
		Timestamp:   time.Unix(w.Timestamp, 0).UTC(),
	}, nil
}

// ParseRawEvent decodes a NATS message body into a typed event based on
// the event type resolved from its subject.
func ParseRawEvent(eventType string, data []byte) (event.Event, error) {
	switch eventType {
	case "NewAuction":
		return parseNewAuction(data)
	case "NewUser":
		return parseNewUser(data)
	case "NewSellOrder":
		return parseSellOrder(data, event.EventTypeNewSellOrder)
	case "CancellationSellOrder":
		return parseSellOrder(data, event.EventTypeCancellationSellOrder)
	case "ClaimedFromOrder":
		return parseSellOrder(data, event.EventTypeClaimedFromOrder)
	case "AuctionCleared":
		return parseAuctionCleared(data)
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

// ParseStoredEvent decodes an event-log payload back into its typed
// event. Stored payloads are the projector's JSON encoding of the typed
// structs, not the NATS wire format.
func ParseStoredEvent(eventType string, payload []byte) (event.Event, error) {
	var evt event.Event
	switch eventType {
	case "NewAuction":
		evt = &event.NewAuction{}
	case "NewUser":
		evt = &event.NewUser{}
	case "NewSellOrder":
		evt = &event.NewSellOrder{}
	case "CancellationSellOrder":
		evt = &event.CancellationSellOrder{}
	case "ClaimedFromOrder":
		evt = &event.ClaimedFromOrder{}
	case "AuctionCleared":
		evt = &event.AuctionCleared{}
	default:
		return nil, fmt.Errorf("unknown stored event type %q", eventType)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal stored %s: %w", eventType, err)
	}
	return evt, nil
}

func parseNewAuction(data []byte) (event.Event, error) {
	var w newAuctionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal NewAuction: %w", err)
	}
	ref, err := w.toChainRef()
	if err != nil {
		return nil, err
	}
	if w.AuctionedSellAmount == nil || w.MinBuyAmount == nil {
		return nil, fmt.Errorf("NewAuction %d: missing amounts", w.AuctionID)
	}
	ev := &event.NewAuction{
		ChainRef:                ref,
		ID:                      w.AuctionID,
		AuctioningToken:         common.HexToAddress(w.AuctioningToken),
		BiddingToken:            common.HexToAddress(w.BiddingToken),
		AuctioningTokenDecimals: w.AuctioningTokenDecimals,
		BiddingTokenDecimals:    w.BiddingTokenDecimals,
		AuctioningTokenSymbol:   w.AuctioningTokenSymbol,
		BiddingTokenSymbol:      w.BiddingTokenSymbol,
		AuctionedSellAmount:     w.AuctionedSellAmount.ToInt(),
		MinBuyAmount:            w.MinBuyAmount.ToInt(),
		UserID:                  w.UserID,
		EndDate:                 w.EndDate,
		CancellationEndDate:     w.CancellationEndDate,
		AllowListContract:       common.HexToAddress(w.AllowListContract),
	}
	if w.MinimumBiddingAmountPerOrder != nil {
		ev.MinimumBiddingAmountPerOrder = w.MinimumBiddingAmountPerOrder.ToInt()
	}
	if w.MinFundingThreshold != nil {
		ev.MinFundingThreshold = w.MinFundingThreshold.ToInt()
	}
	if w.AllowListData != "" {
		b, err := hexutil.Decode(w.AllowListData)
		if err != nil {
			return nil, fmt.Errorf("NewAuction %d: allow list data: %w", w.AuctionID, err)
		}
		ev.AllowListData = b
	}
	return ev, nil
}

func parseNewUser(data []byte) (event.Event, error) {
	var w newUserWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal NewUser: %w", err)
	}
	ref, err := w.toChainRef()
	if err != nil {
		return nil, err
	}
	return &event.NewUser{
		ChainRef: ref,
		UserID:   w.UserID,
		Address:  common.HexToAddress(w.Address),
	}, nil
}

func parseSellOrder(data []byte, kind event.EventType) (event.Event, error) {
	var w sellOrderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	ref, err := w.toChainRef()
	if err != nil {
		return nil, err
	}
	if w.BuyAmount == nil || w.SellAmount == nil {
		return nil, fmt.Errorf("%s auction %d user %d: missing amounts", kind, w.AuctionID, w.UserID)
	}
	switch kind {
	case event.EventTypeNewSellOrder:
		return &event.NewSellOrder{
			ChainRef:   ref,
			Auction:    w.AuctionID,
			UserID:     w.UserID,
			BuyAmount:  w.BuyAmount.ToInt(),
			SellAmount: w.SellAmount.ToInt(),
		}, nil
	case event.EventTypeCancellationSellOrder:
		return &event.CancellationSellOrder{
			ChainRef:   ref,
			Auction:    w.AuctionID,
			UserID:     w.UserID,
			BuyAmount:  w.BuyAmount.ToInt(),
			SellAmount: w.SellAmount.ToInt(),
		}, nil
	case event.EventTypeClaimedFromOrder:
		return &event.ClaimedFromOrder{
			ChainRef:   ref,
			Auction:    w.AuctionID,
			UserID:     w.UserID,
			BuyAmount:  w.BuyAmount.ToInt(),
			SellAmount: w.SellAmount.ToInt(),
		}, nil
	default:
		return nil, fmt.Errorf("not an order event: %s", kind)
	}
}

func parseAuctionCleared(data []byte) (event.Event, error) {
	var w auctionClearedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal AuctionCleared: %w", err)
	}
	ref, err := w.toChainRef()
	if err != nil {
		return nil, err
	}
	if w.SoldAuctioningTokens == nil || w.SoldBiddingTokens == nil {
		return nil, fmt.Errorf("AuctionCleared %d: missing amounts", w.AuctionID)
	}
	if len(w.ClearingPriceOrder) != 66 {
		return nil, fmt.Errorf("AuctionCleared %d: bad clearing order %q", w.AuctionID, w.ClearingPriceOrder)
	}
	return &event.AuctionCleared{
		ChainRef:             ref,
		Auction:              w.AuctionID,
		SoldAuctioningTokens: w.SoldAuctioningTokens.ToInt(),
		SoldBiddingTokens:    w.SoldBiddingTokens.ToInt(),
		ClearingPriceOrder:   common.HexToHash(w.ClearingPriceOrder),
	}, nil
}
