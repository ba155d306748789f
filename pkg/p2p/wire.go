package p2p

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
)

var errBadAttestation = errors.New("invalid attestation")

func init() {
	gob.Register(EventWire{})
}

// EventWire is the gossip envelope. The event itself travels as JSON so
// indexers outside Go can read it.
type EventWire struct {
	Origin string // peer id of the publishing node
	SentAt int64  // unix milliseconds
	Event  []byte // JSON-encoded events.Event

	// Attestor is the publishing node's BLS public key and Attestation its
	// signature over attestationMessage. Both are empty for unattested
	// envelopes.
	Attestor    []byte
	Attestation []byte
}

func attestationMessage(sentAt int64, payload []byte) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(sentAt))
	return ethcrypto.Keccak256(ts[:], payload)
}

// encodeEvent wraps ev in an envelope, signed by att when it is not nil.
func encodeEvent(origin string, sentAt int64, ev events.Event, att *crypto.Attestor) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	w := EventWire{Origin: origin, SentAt: sentAt, Event: payload}
	if att != nil {
		w.Attestor = att.PublicKey()
		w.Attestation = att.Sign(attestationMessage(sentAt, payload))
	}
	return gobEncode(w)
}

// decodeEvent rejects envelopes whose attestation does not verify.
func decodeEvent(data []byte) (EventWire, events.Event, error) {
	var w EventWire
	if err := gobDecode(data, &w); err != nil {
		return w, events.Event{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if len(w.Attestor) > 0 || len(w.Attestation) > 0 {
		if !crypto.VerifyAttestation(w.Attestor, w.Attestation, attestationMessage(w.SentAt, w.Event)) {
			return w, events.Event{}, errBadAttestation
		}
	}
	var ev events.Event
	if err := json.Unmarshal(w.Event, &ev); err != nil {
		return w, events.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return w, ev, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
