package chain

import (
	"fmt"
	"math"

	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	"google.golang.org/protobuf/encoding/protowire"
)

const executeContractTypeURL = "/secret.compute.v1beta1.MsgExecuteContract"

// SignerData is the account state a signature commits to.
type SignerData struct {
	ChainID       string
	AccountNumber uint64
	Sequence      uint64
}

// encodeExecuteContract writes secret.compute.v1beta1.MsgExecuteContract.
// The message type is not part of the SDK, so the fields are laid out by hand:
// sender=1, contract=2, msg=3, sent_funds=5.
func encodeExecuteContract(sender, contract, encryptedMsg []byte, funds []Coin) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, sender)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, contract)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, encryptedMsg)
	for _, c := range funds {
		var coin []byte
		coin = protowire.AppendTag(coin, 1, protowire.BytesType)
		coin = protowire.AppendString(coin, c.Denom)
		coin = protowire.AppendTag(coin, 2, protowire.BytesType)
		coin = protowire.AppendString(coin, c.Amount)
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, coin)
	}
	return b
}

func executeContractAny(sender, contract, encryptedMsg []byte, funds []Coin) *codectypes.Any {
	return &codectypes.Any{
		TypeUrl: executeContractTypeURL,
		Value:   encodeExecuteContract(sender, contract, encryptedMsg, funds),
	}
}

// feeFor prices gasLimit at gasPrice uscrt per unit, rounded up.
func feeFor(gasLimit uint64, gasPrice float64) sdk.Coins {
	amount := int64(math.Ceil(float64(gasLimit) * gasPrice))
	if amount <= 0 {
		return sdk.NewCoins()
	}
	return sdk.NewCoins(sdk.NewInt64Coin(FeeDenom, amount))
}

// signTx builds a SIGN_MODE_DIRECT transaction and returns the raw tx bytes.
func signTx(w *Wallet, msgs []*codectypes.Any, signer SignerData, gasLimit uint64, fee sdk.Coins, memo string) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no messages to sign")
	}
	body := &txtypes.TxBody{Messages: msgs, Memo: memo}
	bodyBytes, err := body.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal tx body: %w", err)
	}

	pubAny, err := codectypes.NewAnyWithValue(w.PubKey())
	if err != nil {
		return nil, fmt.Errorf("pack pubkey: %w", err)
	}
	authInfo := &txtypes.AuthInfo{
		SignerInfos: []*txtypes.SignerInfo{{
			PublicKey: pubAny,
			ModeInfo: &txtypes.ModeInfo{
				Sum: &txtypes.ModeInfo_Single_{
					Single: &txtypes.ModeInfo_Single{Mode: signing.SignMode_SIGN_MODE_DIRECT},
				},
			},
			Sequence: signer.Sequence,
		}},
		Fee: &txtypes.Fee{Amount: fee, GasLimit: gasLimit},
	}
	authBytes, err := authInfo.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal auth info: %w", err)
	}

	doc := &txtypes.SignDoc{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authBytes,
		ChainId:       signer.ChainID,
		AccountNumber: signer.AccountNumber,
	}
	docBytes, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sign doc: %w", err)
	}
	sig, err := w.Sign(docBytes)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	raw := &txtypes.TxRaw{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authBytes,
		Signatures:    [][]byte{sig},
	}
	return raw.Marshal()
}
