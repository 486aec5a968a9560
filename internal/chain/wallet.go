package chain

import (
	"fmt"
	"strings"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
)

// Wallet is a secp256k1 account derived from a recovery phrase.
type Wallet struct {
	priv    cryptotypes.PrivKey
	address string
	raw     []byte
}

// WalletFromMnemonic derives the first account on the Secret coin type.
func WalletFromMnemonic(mnemonic string) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is empty")
	}
	path := hd.CreateHDPath(CoinType, 0, 0).String()
	bz, err := hd.Secp256k1.Derive()(mnemonic, "", path)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	priv := hd.Secp256k1.Generate()(bz)
	raw := priv.PubKey().Address().Bytes()
	addr, err := bech32.ConvertAndEncode(Bech32Prefix, raw)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	return &Wallet{priv: priv, address: addr, raw: raw}, nil
}

func (w *Wallet) Address() string {
	return w.address
}

// AddressBytes is the 20-byte account address.
func (w *Wallet) AddressBytes() []byte {
	return append([]byte(nil), w.raw...)
}

func (w *Wallet) PubKey() cryptotypes.PubKey {
	return w.priv.PubKey()
}

func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	return w.priv.Sign(msg)
}

// AddressBytesFromBech32 decodes a secret1... address.
func AddressBytesFromBech32(addr string) ([]byte, error) {
	hrp, bz, err := bech32.DecodeAndConvert(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if hrp != Bech32Prefix {
		return nil, fmt.Errorf("address %q has prefix %q, want %q", addr, hrp, Bech32Prefix)
	}
	return bz, nil
}
