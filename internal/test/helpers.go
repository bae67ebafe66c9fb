package test

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/blinklabs-io/meshtx/bundle"
	"github.com/mr-tron/base58"
)

// DecodeHexString is a helper function for tests that decodes hex strings. It doesn't return
// an error value, which makes it usable inline.
func DecodeHexString(hexData string) []byte {
	// Strip off any leading/trailing whitespace in hex string
	hexData = strings.TrimSpace(hexData)
	decoded, err := hex.DecodeString(hexData)
	if err != nil {
		panic(fmt.Sprintf("error decoding hex: %s", err))
	}
	return decoded
}

// Keypair generates a deterministic ed25519 keypair from a seed byte
func Keypair(seed byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	seedBytes := make([]byte, ed25519.SeedSize)
	seedBytes[0] = seed
	privKey := ed25519.NewKeyFromSeed(seedBytes)
	return privKey.Public().(ed25519.PublicKey), privKey
}

// NonceRecords builds count unused nonce records under the given authority
// key. Each record gets a distinct nonce account and value
func NonceRecords(
	count int,
	authority ed25519.PublicKey,
) []bundle.CachedNonceData {
	ret := make([]bundle.CachedNonceData, 0, count)
	for i := 0; i < count; i++ {
		account := make([]byte, 32)
		account[0] = byte(i + 1)
		value := make([]byte, 32)
		value[31] = byte(i + 1)
		ret = append(
			ret,
			bundle.CachedNonceData{
				NonceAccount: base58.Encode(account),
				NonceValue:   base58.Encode(value),
				Authority:    base58.Encode(authority),
			},
		)
	}
	return ret
}

// Pattern returns length bytes of a repeating pattern derived from seed,
// deterministic across runs
func Pattern(seed byte, length int) []byte {
	ret := make([]byte, length)
	for i := range ret {
		ret[i] = seed + byte(i%251)
	}
	return ret
}
