package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cosmos/go-bip39"

	"scrtgate/agent/internal/chain"
)

// StoredKey is the on-disk wallet. The mnemonic is the only secret; the
// address is kept alongside so a tampered file is caught on load.
type StoredKey struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Mnemonic  string `json:"mnemonic"`
	CreatedAt string `json:"created_at"`
}

func (k StoredKey) Wallet() (*chain.Wallet, error) {
	return chain.WalletFromMnemonic(k.Mnemonic)
}

func EnsureKey(path, name string) (StoredKey, bool, error) {
	if key, err := Load(path); err == nil {
		return key, false, nil
	} else if !os.IsNotExist(err) {
		return StoredKey{}, false, err
	}
	key, err := Generate(name)
	if err != nil {
		return StoredKey{}, false, err
	}
	if err := Save(path, key); err != nil {
		return StoredKey{}, false, err
	}
	return key, true, nil
}

// Generate creates a fresh 24-word recovery phrase.
func Generate(name string) (StoredKey, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return StoredKey{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return StoredKey{}, err
	}
	return FromMnemonic(name, mnemonic)
}

// FromMnemonic wraps an existing recovery phrase, e.g. one taken from MNEMONIC.
func FromMnemonic(name, mnemonic string) (StoredKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return StoredKey{}, fmt.Errorf("invalid mnemonic")
	}
	w, err := chain.WalletFromMnemonic(mnemonic)
	if err != nil {
		return StoredKey{}, err
	}
	return StoredKey{
		Name:      name,
		Address:   w.Address(),
		Mnemonic:  mnemonic,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func Save(path string, key StoredKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	bz, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0o600)
}

func Load(path string) (StoredKey, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return StoredKey{}, err
	}
	var key StoredKey
	if err := json.Unmarshal(bz, &key); err != nil {
		return StoredKey{}, err
	}
	if key.Mnemonic == "" {
		return StoredKey{}, fmt.Errorf("invalid key file: missing mnemonic")
	}
	w, err := key.Wallet()
	if err != nil {
		return StoredKey{}, fmt.Errorf("invalid key file: %w", err)
	}
	if key.Address != "" && key.Address != w.Address() {
		return StoredKey{}, fmt.Errorf("invalid key file: address %s does not match mnemonic (%s)", key.Address, w.Address())
	}
	key.Address = w.Address()
	return key, nil
}

func DefaultKeyPath(base string) string {
	return filepath.Join(base, "wallet.json")
}
