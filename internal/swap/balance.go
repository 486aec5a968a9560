package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"golang.org/x/sync/errgroup"

	"scrtgate/agent/internal/chain"
	"scrtgate/agent/internal/types"
)

type balanceQuery struct {
	Balance balanceArgs `json:"balance"`
}

type balanceArgs struct {
	Address string `json:"address"`
	Key     string `json:"key"`
}

// BalanceQuery is the SNIP-20 authenticated balance query.
func BalanceQuery(address, viewingKey string) any {
	return balanceQuery{Balance: balanceArgs{Address: address, Key: viewingKey}}
}

type balanceResponse struct {
	Balance *struct {
		Amount string `json:"amount"`
	} `json:"balance"`
	ViewingKeyError *struct {
		Msg string `json:"msg"`
	} `json:"viewing_key_error"`
}

// Balance is one token's reading. Problem is set instead of Amount when the
// contract refused to answer.
type Balance struct {
	Symbol   string
	Amount   string
	Decimals int
	Problem  string
}

func (b Balance) String() string {
	if b.Problem != "" {
		return "unavailable (" + b.Problem + ")"
	}
	return fmt.Sprintf("%s (%s base units)", FormatUnits(b.Amount, b.Decimals), b.Amount)
}

type Snapshot struct {
	Address  string
	Balances []Balance
}

func (s Snapshot) String() string {
	lines := make([]string, 0, len(s.Balances))
	for _, b := range s.Balances {
		lines = append(lines, fmt.Sprintf("%s Balance: %s", b.Symbol, b))
	}
	return strings.Join(lines, "\n")
}

// ReadBalances queries every token concurrently. Contract-level refusals
// (viewing key errors) land in Balance.Problem; transport failures fail the read.
func ReadBalances(ctx context.Context, q chain.Querier, address string, tokens ...Token) (Snapshot, error) {
	out := Snapshot{Address: address, Balances: make([]Balance, len(tokens))}
	g, ctx := errgroup.WithContext(ctx)
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			b, err := readBalance(ctx, q, address, tok)
			if err != nil {
				return errorsmod.Wrapf(types.ErrChainQuery, "%s balance: %v", tok.Symbol, err)
			}
			out.Balances[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func readBalance(ctx context.Context, q chain.Querier, address string, tok Token) (Balance, error) {
	b := Balance{Symbol: tok.Symbol, Decimals: tok.Decimals}
	if strings.TrimSpace(tok.ViewingKey) == "" {
		b.Problem = "no viewing key configured"
		return b, nil
	}
	var resp balanceResponse
	err := q.QueryContract(ctx, tok.Contract, tok.CodeHash, BalanceQuery(address, tok.ViewingKey), &resp)
	var cerr *chain.ContractError
	switch {
	case errors.As(err, &cerr):
		b.Problem = cerr.Message
		return b, nil
	case err != nil:
		return Balance{}, err
	}
	switch {
	case resp.ViewingKeyError != nil:
		b.Problem = resp.ViewingKeyError.Msg
	case resp.Balance != nil:
		b.Amount = resp.Balance.Amount
	default:
		return Balance{}, fmt.Errorf("unexpected balance response")
	}
	return b, nil
}

// FormatUnits renders a base-unit integer string with the given decimals,
// trimming trailing zeros: "1230000", 6 -> "1.23".
func FormatUnits(amount string, decimals int) string {
	amount = strings.TrimLeft(strings.TrimSpace(amount), "0")
	if amount == "" {
		return "0"
	}
	if decimals <= 0 {
		return amount
	}
	if len(amount) <= decimals {
		amount = strings.Repeat("0", decimals-len(amount)+1) + amount
	}
	whole, frac := amount[:len(amount)-decimals], strings.TrimRight(amount[len(amount)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Reader reads the wallet's balances for a fixed set of tokens.
type Reader struct {
	Querier chain.Querier
	Address string
	Tokens  []Token
}

func (r Reader) Balances(ctx context.Context) (Snapshot, error) {
	return ReadBalances(ctx, r.Querier, r.Address, r.Tokens...)
}
