package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a secp256k1 key. The oracle node uses it to sign
// fulfillments; tests and clients use it to produce participant signatures.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// FulfillmentDigest is keccak256(requestId ‖ uint256(result)).
func FulfillmentDigest(requestID common.Hash, result int64) common.Hash {
	var code [32]byte
	if result < 0 {
		for i := range code {
			code[i] = 0xff
		}
	}
	binary.BigEndian.PutUint64(code[24:], uint64(result))
	return ethcrypto.Keccak256Hash(requestID.Bytes(), code[:])
}

// SignFulfillment signs f in place.
func (s *Signer) SignFulfillment(f *domain.Fulfillment) error {
	sig, err := s.signDigest(FulfillmentDigest(f.RequestID, f.Result).Bytes())
	if err != nil {
		return err
	}
	f.Signature = sig
	return nil
}

// RecoverFulfillment returns the address that signed f.
func RecoverFulfillment(f domain.Fulfillment) (common.Address, error) {
	return recoverDigest(FulfillmentDigest(f.RequestID, f.Result).Bytes(), f.Signature)
}

// SignMessage produces an EIP-191 personal_sign signature over msg.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	return s.signDigest(accounts.TextHash(msg))
}

// RecoverMessage returns the address that personal-signed msg.
func RecoverMessage(msg, sig []byte) (common.Address, error) {
	return recoverDigest(accounts.TextHash(msg), sig)
}

// signDigest returns r ‖ s ‖ v with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func recoverDigest(digest, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d: %w", len(sig), domain.ErrInvalidSignature)
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, errors.Join(domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a 0x-prefixed hex signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: decode signature: %w", domain.ErrInvalidSignature)
	}
	return sig, nil
}

// EncodeSignature is the inverse of DecodeSignature.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
