package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

// InputCodec names which link encoding PutDAG should request (spec §4.1/§4.9).
type InputCodec string

const (
	// Typed is the codec the core MUST use: {"/":"cid"} is parsed as a
	// first-class IPLD link and re-emitted as a dag-cbor tag-42 link,
	// so transitive traversal follows it.
	Typed InputCodec = "typed"
	// Plain stores the same shape as an ordinary JSON object; no link
	// is registered, so traversal stops there. Exists only so the
	// Codec.TypedLinkRequired regression (spec §8, S6) is expressible.
	Plain InputCodec = "plain"
)

// typedLinkMarker is the two-byte CBOR major-6 tag-42 prefix ("tag 42,
// value follows") that precedes every IPLD link in canonical dag-cbor.
var typedLinkMarker = []byte{0xd8, 0x2a}

// EncodeTyped renders v as canonical dag-cbor, treating every cid.Cid
// (or *cid.Cid) field anywhere in v's structure as a typed IPLD link.
// This is the only encode path the core may use for PutDAG calls.
func EncodeTyped(v interface{}) (raw []byte, root cid.Cid, err error) {
	nd, err := cbor.WrapObject(v, mh.SHA2_256, -1)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("model: typed-encode: %w", err)
	}
	return nd.RawData(), nd.Cid(), nil
}

// DecodeTyped decodes canonical dag-cbor bytes produced by EncodeTyped
// back into out, which must be a pointer to the original struct shape.
func DecodeTyped(raw []byte, out interface{}) error {
	if err := cbor.DecodeInto(raw, out); err != nil {
		return fmt.Errorf("model: typed-decode: %w", err)
	}
	return nil
}

// EncodePlain renders v as ordinary JSON. cid.Cid fields still marshal
// to {"/":"cid"} (go-cid implements json.Marshaler that way), so the
// bytes LOOK the same as the typed form to a casual reader -- but no
// dag-cbor tag-42 marker is present, and a store indexing this block
// under input-codec=plain will not discover the link for traversal.
func EncodePlain(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("model: plain-encode: %w", err)
	}
	return raw, nil
}

// DecodePlain decodes a plain-JSON-encoded block.
func DecodePlain(raw []byte, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("model: plain-decode: %w", err)
	}
	return nil
}

// LinksFromTypedCBOR decodes a typed-encoded block and returns every
// CID it links to, by way of go-ipld-cbor's own link discovery -- the
// same traversal the store itself uses to decide what a DAG export's
// transitive closure includes (spec §4.6, §4.9).
func LinksFromTypedCBOR(raw []byte) ([]cid.Cid, error) {
	nd, err := cbor.Decode(raw, mh.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("model: link-decode: %w", err)
	}
	links := nd.Links()
	out := make([]cid.Cid, 0, len(links))
	for _, l := range links {
		out = append(out, l.Cid)
	}
	return out, nil
}

// CountTypedLinkMarkers scans the canonical binary form of a typed-encoded
// block and counts occurrences of the dag-cbor tag-42 link marker. Spec
// §4.9's conformance check requires this count be >= the number of
// link-valued fields the node has.
func CountTypedLinkMarkers(raw []byte) int {
	count := 0
	idx := 0
	for {
		i := bytes.Index(raw[idx:], typedLinkMarker)
		if i < 0 {
			break
		}
		count++
		idx += i + len(typedLinkMarker)
	}
	return count
}
