package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"go.uber.org/zap"
)

const (
	DefaultLCDURL   = "https://lcd.mainnet.secretsaturn.net"
	DefaultGasPrice = 0.1
)

var encryptedErrRe = regexp.MustCompile(`encrypted: ([A-Za-z0-9+/=]+)`)

// StatusError is a non-2xx answer from the LCD.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := "lcd request failed"
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

// SubmitError means the signed transaction may have reached the node but no
// answer came back. TxHash is computed locally, so the transaction can still
// be looked up.
type SubmitError struct {
	TxHash string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit tx %s: %s", e.TxHash, e.Err.Error())
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// TxHash is the hash a node assigns to txBytes.
func TxHash(txBytes []byte) string {
	sum := sha256.Sum256(txBytes)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ContractError carries the decrypted error a contract returned.
type ContractError struct {
	Contract string
	Message  string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract %s: %s", e.Contract, e.Message)
}

type LCDOptions struct {
	BaseURL  string
	ChainID  string
	GasPrice float64
	Timeout  time.Duration
	// EncryptionSeed pins the x25519 key. Nil means a random key per process.
	EncryptionSeed []byte
}

// LCDClient talks to a Secret Network node over its REST gateway. The wallet
// is optional; without one the client can only query.
type LCDClient struct {
	BaseURL  string
	ChainID  string
	GasPrice float64
	HTTP     *http.Client

	wallet *Wallet
	log    *zap.Logger
	seed   []byte

	mu         sync.Mutex
	enc        *Encryptor
	codeHashes map[string]string

	// one signer, one sequence: broadcasts go out one at a time
	txMu sync.Mutex
}

func NewLCDClient(opts LCDOptions, wallet *Wallet, log *zap.Logger) *LCDClient {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = DefaultLCDURL
	}
	if strings.TrimSpace(opts.ChainID) == "" {
		opts.ChainID = MainnetChainID
	}
	if opts.GasPrice <= 0 {
		opts.GasPrice = DefaultGasPrice
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &LCDClient{
		BaseURL:    strings.TrimRight(opts.BaseURL, "/"),
		ChainID:    opts.ChainID,
		GasPrice:   opts.GasPrice,
		HTTP:       &http.Client{Timeout: opts.Timeout},
		wallet:     wallet,
		log:        log,
		seed:       opts.EncryptionSeed,
		codeHashes: map[string]string{},
	}
}

func (c *LCDClient) Address() string {
	if c.wallet == nil {
		return ""
	}
	return c.wallet.Address()
}

func (c *LCDClient) encryptor(ctx context.Context) (*Encryptor, error) {
	c.mu.Lock()
	enc := c.enc
	c.mu.Unlock()
	if enc != nil {
		return enc, nil
	}

	var resp struct {
		Key string `json:"key"`
	}
	if err := c.getJSON(ctx, "/registration/v1beta1/tx-key", &resp); err != nil {
		return nil, fmt.Errorf("fetch consensus io key: %w", err)
	}
	ioKey, err := base64.StdEncoding.DecodeString(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("decode consensus io key: %w", err)
	}
	enc, err = NewEncryptor(c.seed, ioKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		c.enc = enc
	}
	return c.enc, nil
}

// CodeHash returns the contract's code hash, caching it for the client's lifetime.
func (c *LCDClient) CodeHash(ctx context.Context, contract string) (string, error) {
	c.mu.Lock()
	hash, ok := c.codeHashes[contract]
	c.mu.Unlock()
	if ok {
		return hash, nil
	}

	var resp struct {
		CodeHash string `json:"code_hash"`
	}
	if err := c.getJSON(ctx, "/compute/v1beta1/code_hash/by_contract_address/"+contract, &resp); err != nil {
		return "", fmt.Errorf("code hash for %s: %w", contract, err)
	}
	hash = strings.ToLower(strings.TrimSpace(resp.CodeHash))
	if hash == "" {
		return "", fmt.Errorf("code hash for %s: empty response", contract)
	}
	c.mu.Lock()
	c.codeHashes[contract] = hash
	c.mu.Unlock()
	return hash, nil
}

// QueryContract sends an encrypted smart query and decodes the decrypted JSON
// answer into out. An empty codeHash is looked up first.
func (c *LCDClient) QueryContract(ctx context.Context, contract, codeHash string, query any, out any) error {
	if codeHash == "" {
		var err error
		if codeHash, err = c.CodeHash(ctx, contract); err != nil {
			return err
		}
	}
	enc, err := c.encryptor(ctx)
	if err != nil {
		return err
	}
	wire, nonce, err := enc.Encrypt(codeHash, query)
	if err != nil {
		return err
	}

	path := "/compute/v1beta1/query/" + contract + "?query=" + url.QueryEscape(base64.StdEncoding.EncodeToString(wire))
	var resp struct {
		Data string `json:"data"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return c.contractError(enc, nonce, contract, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	plaintext, err := enc.Decrypt(nonce, ciphertext)
	if err != nil {
		return err
	}
	// the enclave returns the query answer base64 encoded inside the ciphertext
	answer, err := base64.StdEncoding.DecodeString(string(plaintext))
	if err != nil {
		return fmt.Errorf("decode query answer: %w", err)
	}
	if err := json.Unmarshal(answer, out); err != nil {
		return fmt.Errorf("parse query answer: %w", err)
	}
	return nil
}

// contractError turns an LCD failure into a ContractError when the node
// returned an encrypted contract error we can open.
func (c *LCDClient) contractError(enc *Encryptor, nonce []byte, contract string, err error) error {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return err
	}
	m := encryptedErrRe.FindStringSubmatch(serr.Body)
	if m == nil {
		return err
	}
	ciphertext, derr := base64.StdEncoding.DecodeString(m[1])
	if derr != nil {
		return err
	}
	plaintext, derr := enc.Decrypt(nonce, ciphertext)
	if derr != nil {
		return err
	}
	return &ContractError{Contract: contract, Message: string(plaintext)}
}

type accountInfo struct {
	AccountNumber uint64
	Sequence      uint64
}

func (c *LCDClient) account(ctx context.Context, addr string) (accountInfo, error) {
	var resp struct {
		Account struct {
			AccountNumber uint64 `json:"account_number,string"`
			Sequence      uint64 `json:"sequence,string"`
		} `json:"account"`
	}
	if err := c.getJSON(ctx, "/cosmos/auth/v1beta1/accounts/"+addr, &resp); err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Status == http.StatusNotFound {
			return accountInfo{}, fmt.Errorf("account %s not found on chain, is it funded?", addr)
		}
		return accountInfo{}, fmt.Errorf("fetch account: %w", err)
	}
	return accountInfo{AccountNumber: resp.Account.AccountNumber, Sequence: resp.Account.Sequence}, nil
}

// SignAndBroadcast encrypts each message, signs the transaction with the
// wallet and submits it in sync mode. A non-zero code is returned in the
// result, not as an error.
func (c *LCDClient) SignAndBroadcast(ctx context.Context, msgs []ExecuteMsg, gasLimit uint64) (BroadcastResult, error) {
	if c.wallet == nil {
		return BroadcastResult{}, fmt.Errorf("no wallet configured")
	}
	c.txMu.Lock()
	defer c.txMu.Unlock()

	enc, err := c.encryptor(ctx)
	if err != nil {
		return BroadcastResult{}, err
	}
	anys := make([]*codectypes.Any, 0, len(msgs))
	for _, m := range msgs {
		codeHash := m.CodeHash
		if codeHash == "" {
			if codeHash, err = c.CodeHash(ctx, m.Contract); err != nil {
				return BroadcastResult{}, err
			}
		}
		contract, err := AddressBytesFromBech32(m.Contract)
		if err != nil {
			return BroadcastResult{}, err
		}
		wire, _, err := enc.Encrypt(codeHash, m.Msg)
		if err != nil {
			return BroadcastResult{}, err
		}
		anys = append(anys, executeContractAny(c.wallet.AddressBytes(), contract, wire, m.SentFunds))
	}

	acct, err := c.account(ctx, c.wallet.Address())
	if err != nil {
		return BroadcastResult{}, err
	}
	txBytes, err := signTx(c.wallet, anys, SignerData{
		ChainID:       c.ChainID,
		AccountNumber: acct.AccountNumber,
		Sequence:      acct.Sequence,
	}, gasLimit, feeFor(gasLimit, c.GasPrice), "")
	if err != nil {
		return BroadcastResult{}, err
	}

	payload := map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(txBytes),
		"mode":     "BROADCAST_MODE_SYNC",
	}
	var resp struct {
		TxResponse struct {
			Code      uint32 `json:"code"`
			Codespace string `json:"codespace"`
			TxHash    string `json:"txhash"`
			RawLog    string `json:"raw_log"`
		} `json:"tx_response"`
	}
	hash := TxHash(txBytes)
	if err := c.postJSON(ctx, "/cosmos/tx/v1beta1/txs", payload, &resp); err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Status < http.StatusInternalServerError {
			return BroadcastResult{}, err
		}
		c.log.Warn("broadcast outcome unknown", zap.String("hash", hash), zap.Error(err))
		return BroadcastResult{}, &SubmitError{TxHash: hash, Err: err}
	}
	if resp.TxResponse.TxHash == "" {
		resp.TxResponse.TxHash = hash
	}
	c.log.Info("broadcast tx",
		zap.String("hash", resp.TxResponse.TxHash),
		zap.Uint32("code", resp.TxResponse.Code),
		zap.Uint64("sequence", acct.Sequence))
	return BroadcastResult{
		Code:      resp.TxResponse.Code,
		Codespace: resp.TxResponse.Codespace,
		TxHash:    resp.TxResponse.TxHash,
		RawLog:    resp.TxResponse.RawLog,
	}, nil
}

// TxInfo looks a transaction up by hash. ErrTxNotFound means it is not in a
// block yet, or never made it.
func (c *LCDClient) TxInfo(ctx context.Context, hash string) (TxInfo, error) {
	var resp struct {
		TxResponse struct {
			Height    int64  `json:"height,string"`
			TxHash    string `json:"txhash"`
			Code      uint32 `json:"code"`
			Codespace string `json:"codespace"`
			RawLog    string `json:"raw_log"`
			GasWanted int64  `json:"gas_wanted,string"`
			GasUsed   int64  `json:"gas_used,string"`
			Timestamp string `json:"timestamp"`
		} `json:"tx_response"`
	}
	if err := c.getJSON(ctx, "/cosmos/tx/v1beta1/txs/"+hash, &resp); err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && (serr.Status == http.StatusNotFound || strings.Contains(strings.ToLower(serr.Body), "not found")) {
			return TxInfo{}, ErrTxNotFound
		}
		return TxInfo{}, err
	}
	r := resp.TxResponse
	return TxInfo{
		TxHash:    r.TxHash,
		Height:    r.Height,
		Code:      r.Code,
		Codespace: r.Codespace,
		RawLog:    r.RawLog,
		GasUsed:   r.GasUsed,
		GasWanted: r.GasWanted,
		Timestamp: r.Timestamp,
	}, nil
}

func (c *LCDClient) NodeInfo(ctx context.Context) (NodeInfo, error) {
	var resp struct {
		DefaultNodeInfo struct {
			Network string `json:"network"`
			Moniker string `json:"moniker"`
		} `json:"default_node_info"`
		ApplicationVersion struct {
			Version          string `json:"version"`
			CosmosSDKVersion string `json:"cosmos_sdk_version"`
		} `json:"application_version"`
	}
	if err := c.getJSON(ctx, "/cosmos/base/tendermint/v1beta1/node_info", &resp); err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{
		Network:          resp.DefaultNodeInfo.Network,
		Moniker:          resp.DefaultNodeInfo.Moniker,
		AppVersion:       resp.ApplicationVersion.Version,
		CosmosSDKVersion: resp.ApplicationVersion.CosmosSDKVersion,
	}, nil
}

// BankBalances lists the native bank balances of addr.
func (c *LCDClient) BankBalances(ctx context.Context, addr string) ([]Coin, error) {
	var resp struct {
		Balances []Coin `json:"balances"`
	}
	if err := c.getJSON(ctx, "/cosmos/bank/v1beta1/balances/"+addr, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

func (c *LCDClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *LCDClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *LCDClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		serr := &StatusError{Status: resp.StatusCode}
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			serr.Body = strings.TrimSpace(string(body))
		}
		c.log.Debug("lcd error", zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode))
		return serr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
