package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5a}, 20)
	addr := NewAddress(Prefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(Prefix)+"1") {
		t.Fatalf("encoded address missing prefix: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip lost bytes: %x", decoded.Bytes())
	}
	if decoded.Raw() != addr.Raw() {
		t.Fatalf("raw representation mismatch")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"); err == nil {
		t.Fatalf("foreign prefix must be rejected")
	}
	if _, err := DecodeAddress("not bech32 at all"); err == nil {
		t.Fatalf("garbage must be rejected")
	}
}

func TestIsZero(t *testing.T) {
	if !NewAddress(Prefix, make([]byte, 20)).IsZero() {
		t.Fatalf("null principal must report zero")
	}
	if NewAddress(Prefix, bytes.Repeat([]byte{1}, 20)).IsZero() {
		t.Fatalf("non-null principal must not report zero")
	}
	var empty Address
	if !empty.IsZero() {
		t.Fatalf("zero value must report zero")
	}
}

func TestKeyDerivesStableAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.IsZero() {
		t.Fatalf("derived address must not be the null principal")
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address().String() != addr.String() {
		t.Fatalf("restored key derives a different address")
	}
}
