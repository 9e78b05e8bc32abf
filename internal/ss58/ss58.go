package ss58

import (
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// checksumPrefix is the domain separator the SS58 scheme hashes in front of
// the payload.
var checksumPrefix = []byte("SS58PRE")

// Encode renders a 32-byte public key as an SS58 address under the given
// network format (42 = generic substrate, 2 = kusama, 0 = polkadot).
func Encode(pub [32]byte, format uint16) string {
	ident := format & 0x3fff

	var payload []byte
	if ident < 64 {
		payload = append(payload, byte(ident))
	} else {
		// two-byte form for formats 64..16383
		first := byte(((ident & 0xfc) >> 2) | 0x40)
		second := byte((ident >> 8) | ((ident & 0x03) << 6))
		payload = append(payload, first, second)
	}
	payload = append(payload, pub[:]...)

	hasher, err := blake2b.New512(nil)
	if err != nil {
		// blake2b.New512 only fails for invalid key sizes; nil never does.
		panic(err)
	}
	hasher.Write(checksumPrefix)
	hasher.Write(payload)
	checksum := hasher.Sum(nil)

	return base58.Encode(append(payload, checksum[:2]...))
}
