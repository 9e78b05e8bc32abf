package ss58

import (
	"encoding/hex"
	"testing"
)

func pubkey(t *testing.T, hexStr string) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("decode pubkey: %v", err)
	}
	var pub [32]byte
	copy(pub[:], raw)
	return pub
}

func TestEncodeKnownAddresses(t *testing.T) {
	// //Alice dev account
	alice := pubkey(t, "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

	cases := []struct {
		name   string
		format uint16
		want   string
	}{
		{"generic substrate", 42, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"},
		{"kusama", 2, "HNZata7iMYWmk5RvZRTiAsSDhV8366zq2YGb3tLH5Upf74F"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Encode(alice, tc.format)
			if got != tc.want {
				t.Fatalf("Encode(alice, %d) = %s, want %s", tc.format, got, tc.want)
			}
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	pub := pubkey(t, "8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48")
	if Encode(pub, 42) != Encode(pub, 42) {
		t.Fatal("Encode produced different output for identical input")
	}
}
