// Package swap builds the Shade router order the agent places and reads SNIP-20
// balances for the tokens involved.
package swap

import (
	"scrtgate/agent/internal/chain"
)

const (
	SSCRTContract = "secret1k0jntykt7e4g3y88ltc60czgjuqdy4c9e8fzek"
	SUSDCContract = "secret1vkq022x4q8t8kx9de3r84u669l65xnwf2lg3e6"
	SUSDCCodeHash = "638a3e1d50175fbcb8373cf801565283e3eb23d88a9b7b7f99fcc5eb1e6b561e"

	// Router is the Shade swap router that receives the SNIP-20 send.
	Router = "secret1pjhdug87nxzv0esxasmeyfsucaj98pw4334wyc"

	// BuyAmount is 0.4 sUSDC in base units.
	BuyAmount   = "400000"
	BuyGasLimit = uint64(3_500_000)

	// swap_tokens_for_exact over the sUSDC -> sSCRT path, expected_return 1.
	buyRouteMsg = "eyJzd2FwX3Rva2Vuc19mb3JfZXhhY3QiOnsiZXhwZWN0ZWRfcmV0dXJuIjoiMSIsInBhdGgiOlt7ImFkZHIiOiJzZWNyZXQxcXo1N3BlYTRrM25kbWpweTZ0ZGpjdXE0dHpydmpuMGFwaGNhMGsiLCJjb2RlX2hhc2giOiJlODgxNjUzNTNkNWQ3ZTc4NDdmMmM4NDEzNGMzZjc4NzFiMmVlZTY4NGZmYWM5ZmNmOGQ5OWE0ZGEzOWRjMmYyIn0seyJhZGRyIjoic2VjcmV0MWE2ZWZuejl5NzAycGN0bW56ZWp6a2pkeXEwbTYyanlwd3NmazkyIiwiY29kZV9oYXNoIjoiZTg4MTY1MzUzZDVkN2U3ODQ3ZjJjODQxMzRjM2Y3ODcxYjJlZWU2ODRmZmFjOWZjZjhkOTlhNGRhMzlkYzJmMiJ9LHsiYWRkciI6InNlY3JldDF5Nnc0NWZ3ZzlsbjlweGQ2cXlzOGx0amxudHU5eGE0ZjJkZTdzcCIsImNvZGVfaGFzaCI6ImU4ODE2NTM1M2Q1ZDdlNzg0N2YyYzg0MTM0YzNmNzg3MWIyZWVlNjg0ZmZhYzlmY2Y4ZDk5YTRkYTM5ZGMyZjIifV19fQ=="
	buyPadding  = "Iq7w0EzEpkt"
)

// Token is a SNIP-20 contract plus the viewing key used to read our balance.
type Token struct {
	Symbol     string
	Contract   string
	CodeHash   string
	ViewingKey string
	Decimals   int
}

// Pair is the quote token spent and the target token bought.
type Pair struct {
	Quote  Token
	Target Token
}

func DefaultPair() Pair {
	return Pair{
		Quote: Token{
			Symbol:   "sUSDC",
			Contract: SUSDCContract,
			CodeHash: SUSDCCodeHash,
			Decimals: 6,
		},
		Target: Token{
			Symbol:   "sSCRT",
			Contract: SSCRTContract,
			Decimals: 6,
		},
	}
}

type sendMsg struct {
	Send sendBody `json:"send"`
}

type sendBody struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Msg       string `json:"msg"`
	Padding   string `json:"padding,omitempty"`
}

// BuyOrder is the one order the agent ever places: send BuyAmount of the quote
// token to the router with the fixed route message.
func BuyOrder(p Pair) chain.ExecuteMsg {
	return chain.ExecuteMsg{
		Contract: p.Quote.Contract,
		CodeHash: p.Quote.CodeHash,
		Msg: sendMsg{Send: sendBody{
			Recipient: Router,
			Amount:    BuyAmount,
			Msg:       buyRouteMsg,
			Padding:   buyPadding,
		}},
	}
}
