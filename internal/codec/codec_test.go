package codec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	peers := map[string]PeerEntry{
		"LA": {D: map[string]interface{}{"x": int8(1)}, S: 1},
		"RA": {D: map[string]interface{}{"x": int8(2)}, S: 0},
	}
	b, err := Encode(1234.5, peers)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if out["t"] != 1234.5 {
		t.Errorf("t = %v, want 1234.5", out["t"])
	}
	if _, ok := out["LA"]; !ok {
		t.Error("missing LA entry after round trip")
	}
	if _, ok := out["RA"]; !ok {
		t.Error("missing RA entry after round trip")
	}
}

func TestDecodePeerPayloadInvalid(t *testing.T) {
	if _, err := DecodePeerPayload([]byte{0xc1}); err == nil {
		t.Fatal("DecodePeerPayload() on invalid msgpack = nil error, want error")
	}
}
