// Package codec implements the msgpack wire format for the combined frame
// (spec.md §6) and decoding of individual peer payloads.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PeerEntry is one peer's slot in the combined frame: its decoded payload
// and its status code (session.Status, encoded as an integer per the wire
// contract in spec.md §6 — status 0..3, must not be reordered).
type PeerEntry struct {
	D interface{} `msgpack:"d"`
	S uint8       `msgpack:"s"`
}

// Frame is the combined-frame mapping: "t" plus one entry per peer short
// name. Go's msgpack map encoding can't mix a fixed field with a dynamic
// set of peer keys in a struct, so Frame is built as a map at encode time
// (see Encode) and this type only documents the layout; neither Encode
// nor Decode uses it.
type Frame struct {
	T     float64
	Peers map[string]PeerEntry
}

// DecodePeerPayload unmarshals one peer's raw notification payload
// (msgpack-encoded telemetry) into a generic value suitable for embedding
// as CombinedFrame["<short_name>"]["d"]. A decode failure is a
// Decode-class error per spec.md §7: the caller drops the whole tick's
// frame but leaves queues untouched.
func DecodePeerPayload(raw []byte) (interface{}, error) {
	var v interface{}
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("codec: decode peer payload: %w", err)
	}
	return v, nil
}

// Encode packs a combined frame (wall-clock seconds plus one entry per
// peer short name) into msgpack bytes.
func Encode(t float64, peers map[string]PeerEntry) ([]byte, error) {
	out := make(map[string]interface{}, len(peers)+1)
	out["t"] = t
	for shortName, entry := range peers {
		out[shortName] = entry
	}
	b, err := msgpack.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("codec: encode combined frame: %w", err)
	}
	return b, nil
}

// Decode unpacks msgpack bytes produced by Encode back into a generic
// map, primarily for tests exercising the round-trip invariant (spec.md
// §8, property 7).
func Decode(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("codec: decode combined frame: %w", err)
	}
	return out, nil
}
