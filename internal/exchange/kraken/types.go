// Package kraken implements the exchange.Client interface against the
// Kraken REST and WebSocket APIs.
package kraken

import "encoding/json"

// apiResponse is the envelope every Kraken REST endpoint returns.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// addOrderResult is the result payload of AddOrder.
type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

// amendOrderResult is the result payload of AmendOrder.
type amendOrderResult struct {
	AmendID string `json:"amend_id"`
}

// cancelOrderResult is the result payload of CancelOrder.
type cancelOrderResult struct {
	Count int `json:"count"`
}

// tickerEntry is one pair's entry in the public Ticker result. Fields are
// arrays of strings per the Kraken API: a/b = [price, whole lot volume,
// lot volume], c = [price, lot volume], v/h/l = [today, last 24h].
type tickerEntry struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Closed []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

// queryOrderEntry is one order's entry in the QueryOrders result.
type queryOrderEntry struct {
	Status  string `json:"status"` // pending, open, closed, canceled, expired
	Price   string `json:"price"`  // average fill price
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Descr   struct {
		Pair  string `json:"pair"`
		Type  string `json:"type"` // buy or sell
		Price string `json:"price"`
	} `json:"descr"`
}

// openOrdersResult is the result payload of OpenOrders.
type openOrdersResult struct {
	Open map[string]queryOrderEntry `json:"open"`
}
