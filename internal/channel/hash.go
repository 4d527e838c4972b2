package channel

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// payloadDomainKey separates payload hashes from any other BLAKE3 use.
// Changing it invalidates every stored rendered hash, forcing one edit per
// order on the next sync.
var payloadDomainKey = [32]byte{
	'o', 'r', 'd', 'e', 'r', 'b', 'o', 't', '.', 'c', 'h', 'a', 'n', 'n', 'e', 'l',
	'.', 'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0, 0, 0,
}

// encMode is CBOR Core Deterministic Encoding: the same payload always
// encodes to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("channel: CBOR encoder initialization failed: " + err.Error())
	}
}

// PayloadHash returns the hex-encoded keyed BLAKE3 digest of the
// deterministic CBOR encoding of p.
func PayloadHash(p Payload) (string, error) {
	data, err := encMode.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	h, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("init hash: %w", err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
