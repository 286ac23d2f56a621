package ledger

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// GenerateCredential creates a fresh secp256k1 key and its address
func GenerateCredential() (types.Credential, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return types.Credential{}, err
	}
	return types.Credential{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}
