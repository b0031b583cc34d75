package tx

import (
	"crypto/ecdsa"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/dexcore/perpchain/internal/types"
)

// Signer manages a secp256k1 key pair for signing transactions, grounded
// on pkg/crypto/signer.go.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    types.Address
}

func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("tx: generate key: %w", err)
	}
	return &Signer{privateKey: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

func SignerFromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("tx: parse private key: %w", err)
	}
	return &Signer{privateKey: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() types.Address { return s.address }

func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", ethcrypto.FromECDSA(s.privateKey))
}

// Sign produces a 65-byte r‖s‖v signature over a 32-byte hash.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("tx: hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := ethcrypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("tx: sign: %w", err)
	}
	return sig, nil
}
