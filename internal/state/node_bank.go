package state

import (
	fpmath "MangoCache/internal/math"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte account address, printed in base58.
type PublicKey [32]byte

func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("parse public key %q: %w", s, err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("parse public key %q: got %d bytes, want %d", s, len(raw), len(k))
	}
	copy(k[:], raw)
	return k, nil
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NodeBank is one shard of a token's lending pool. Deposits and Borrows are
// share counts; multiply by the matching RootBankCache index for native
// amounts.
type NodeBank struct {
	MetaData MetaData      `json:"meta_data"`
	Deposits fpmath.I80F48 `json:"deposits"`
	Borrows  fpmath.I80F48 `json:"borrows"`
	Vault    PublicKey     `json:"vault"`
}

func NewNodeBank(vault PublicKey) NodeBank {
	return NodeBank{
		MetaData: NewMetaData(DataTypeNodeBank, CurrentVersion, true),
		Vault:    vault,
	}
}
