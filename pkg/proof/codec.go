package proof

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ContentTypeCBOR is the media type used for CBOR-encoded proofs.
const ContentTypeCBOR = "application/cbor"

var cborEnc cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("proof: cbor enc mode: %v", err))
	}
	cborEnc = em
}

// Envelope holds exactly one decoded proof.
type Envelope struct {
	Inclusion   *Inclusion
	Consistency *Consistency
}

// Kind returns the kind of the proof held by e.
func (e *Envelope) Kind() Kind {
	if e.Consistency != nil {
		return KindConsistency
	}
	return KindInclusion
}

// MarshalCBOR encodes an Inclusion or Consistency proof in deterministic CBOR.
func MarshalCBOR(p any) ([]byte, error) {
	switch p.(type) {
	case *Inclusion, *Consistency:
	default:
		return nil, fmt.Errorf("cbor: unsupported proof type %T", p)
	}
	return cborEnc.Marshal(p)
}

// header is the part shared by both proof kinds, used to dispatch decoding.
type header struct {
	Kind Kind `json:"kind" cbor:"1,keyasint"`
}

// Decode parses a serialized proof. JSON is recognised by a leading '{';
// anything else is treated as CBOR. Proofs without a kind are decoded as
// inclusion proofs, the format older clients send.
func Decode(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, malformed("empty proof")
	}

	unmarshal := cbor.Unmarshal
	if raw[0] == '{' {
		unmarshal = json.Unmarshal
	}

	var h header
	if err := unmarshal(raw, &h); err != nil {
		return nil, malformed("decode: %v", err)
	}

	switch h.Kind {
	case KindConsistency:
		var c Consistency
		if err := unmarshal(raw, &c); err != nil {
			return nil, malformed("decode consistency proof: %v", err)
		}
		return &Envelope{Consistency: &c}, nil
	case KindInclusion, "":
		var in Inclusion
		if err := unmarshal(raw, &in); err != nil {
			return nil, malformed("decode inclusion proof: %v", err)
		}
		return &Envelope{Inclusion: &in}, nil
	default:
		return nil, malformed("unknown kind %q", h.Kind)
	}
}
