package query

// AuctionResponse is the read-model view of one auction. Amount fields are
// decimal strings taken verbatim from the NUMERIC columns.
type AuctionResponse struct {
	AuctionID            int64   `json:"auction_id"`
	AuctioningToken      string  `json:"auctioning_token"`
	BiddingToken         string  `json:"bidding_token"`
	AuctioningSupply     string  `json:"auctioning_supply"`
	MinBuyAmount         string  `json:"min_buy_amount"`
	MinFundingThreshold  *string `json:"min_funding_threshold,omitempty"`
	AuctioneerUserID     int64   `json:"auctioneer_user_id"`
	EndDate              int64   `json:"end_date"`
	CancellationEndDate  int64   `json:"cancellation_end_date"`
	ClearingPrice        string  `json:"clearing_price"`
	CurrentVolume        string  `json:"current_volume"`
	IsCleared            bool    `json:"is_cleared"`
	MinFundingNotReached bool    `json:"min_funding_not_reached"`
	HighestBidOrderID    *string `json:"highest_bid_order_id,omitempty"`
	LowestBidOrderID     *string `json:"lowest_bid_order_id,omitempty"`
	OrderCount           int64   `json:"order_count"`
	UniqueBidders        int64   `json:"unique_bidders"`
	AsOfSequence         int64   `json:"as_of_sequence"`
}

// AuctionSummaryResponse is the compact list view served from the
// projection table.
type AuctionSummaryResponse struct {
	AuctionID       int64  `json:"auction_id"`
	AuctioningToken string `json:"auctioning_token"`
	BiddingToken    string `json:"bidding_token"`
	ClearingPrice   string `json:"clearing_price"`
	CurrentVolume   string `json:"current_volume"`
	OrderCount      int64  `json:"order_count"`
	UniqueBidders   int64  `json:"unique_bidders"`
	IsCleared       bool   `json:"is_cleared"`
	EndDate         int64  `json:"end_date"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// OrderResponse is the read-model view of one bid.
type OrderResponse struct {
	OrderID      string  `json:"order_id"`
	AuctionID    int64   `json:"auction_id"`
	UserID       int64   `json:"user_id"`
	UserAddress  string  `json:"user_address"`
	SellAmount   string  `json:"sell_amount"`
	BuyAmount    string  `json:"buy_amount"`
	Price        string  `json:"price"`
	Volume       string  `json:"volume"`
	Status       string  `json:"status"`
	Refund       *string `json:"refund,omitempty"`
	Reward       *string `json:"reward,omitempty"`
	Spent        *string `json:"spent,omitempty"`
	FinalTxHash  *string `json:"final_tx_hash,omitempty"`
	BlockNumber  int64   `json:"block_number"`
	Timestamp    int64   `json:"timestamp"`
	AsOfSequence int64   `json:"as_of_sequence"`
}

// UserResponse maps a contract userId to its address.
type UserResponse struct {
	UserID       int64  `json:"user_id"`
	Address      string `json:"address"`
	CreatedAt    int64  `json:"created_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
