package chain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/miscreant/miscreant.go"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize  = 32
	pubKeySize = 32
)

// Fixed salt the enclave uses when deriving transaction keys.
var hkdfSalt = mustHex("000000000000000000024bead8df69990852c202db0e0097c1a12ea637d7e96d")

func mustHex(s string) []byte {
	bz, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return bz
}

// Encryptor seals contract messages for the network's consensus IO key.
// Every message gets a fresh nonce; the nonce is needed again to open the reply.
type Encryptor struct {
	priv         []byte
	pub          []byte
	consensusPub []byte
}

// NewEncryptor builds an encryptor from a 32-byte seed. A nil seed draws a
// random one.
func NewEncryptor(seed, consensusPub []byte) (*Encryptor, error) {
	if seed == nil {
		seed = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, fmt.Errorf("read seed: %w", err)
		}
	}
	if len(seed) != curve25519.ScalarSize {
		return nil, fmt.Errorf("encryption seed must be %d bytes, got %d", curve25519.ScalarSize, len(seed))
	}
	if len(consensusPub) != curve25519.PointSize {
		return nil, fmt.Errorf("consensus io key must be %d bytes, got %d", curve25519.PointSize, len(consensusPub))
	}
	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		priv:         append([]byte(nil), seed...),
		pub:          pub,
		consensusPub: append([]byte(nil), consensusPub...),
	}, nil
}

func (e *Encryptor) PubKey() []byte {
	return append([]byte(nil), e.pub...)
}

func (e *Encryptor) txKey(nonce []byte) ([]byte, error) {
	shared, err := curve25519.X25519(e.priv, e.consensusPub)
	if err != nil {
		return nil, err
	}
	ikm := make([]byte, 0, len(shared)+len(nonce))
	ikm = append(ikm, shared...)
	ikm = append(ikm, nonce...)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, hkdfSalt, nil), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt marshals msg and seals codeHash||json. The result is
// nonce || pubkey || ciphertext, ready for a query or MsgExecuteContract.
func (e *Encryptor) Encrypt(codeHash string, msg any) (wire []byte, nonce []byte, err error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal contract msg: %w", err)
	}
	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("read nonce: %w", err)
	}
	ciphertext, err := e.seal(nonce, append([]byte(codeHash), body...))
	if err != nil {
		return nil, nil, err
	}
	wire = make([]byte, 0, nonceSize+pubKeySize+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, e.pub...)
	wire = append(wire, ciphertext...)
	return wire, nonce, nil
}

func (e *Encryptor) seal(nonce, plaintext []byte) ([]byte, error) {
	key, err := e.txKey(nonce)
	if err != nil {
		return nil, err
	}
	siv, err := miscreant.NewAESCMACSIV(key)
	if err != nil {
		return nil, err
	}
	return siv.Seal(nil, plaintext, []byte{})
}

// Decrypt opens a ciphertext produced for the message sent with nonce.
func (e *Encryptor) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	key, err := e.txKey(nonce)
	if err != nil {
		return nil, err
	}
	siv, err := miscreant.NewAESCMACSIV(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := siv.Open(nil, ciphertext, []byte{})
	if err != nil {
		return nil, fmt.Errorf("decrypt contract response: %w", err)
	}
	return plaintext, nil
}
