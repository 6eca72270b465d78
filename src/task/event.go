package task

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/crypto"
	"github.com/hetu-project/pohb/src/crypto/keys"
)

/*******************************************************************************
EventBody
*******************************************************************************/

// EventBody contains the payload of an Event as well as the information that
// ties it to the rest of a task's causal chain. The digest of an Event is a
// pure function of its body, which makes events content-addressed and
// tamper-evident: changing any field changes the digest.
type EventBody struct {
	// TaskID identifies the task this event belongs to.
	TaskID string

	// Stage is the name of the pipeline stage that produced the payload. For
	// a genesis event this is the contract's first stage.
	Stage string

	// Creator is the producer's public key in uncompressed form.
	Creator []byte

	// InputDigest is the digest of the event this one consumed. It is empty
	// for genesis events. Digests are computed over previously-known fields
	// only, so an event can never reference itself.
	InputDigest string

	// Payload carries the produced output bytes inline.
	Payload []byte

	// PayloadDigest is the SHA256 digest of Payload. It is what the audit
	// interface and consensus records pin down.
	PayloadDigest string

	// Clock is the producer's vector clock snapshot at emission.
	Clock clock.VectorClock
}

// Marshal returns the JSON encoding of an EventBody
func (e *EventBody) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b) //will write to b
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal converts a JSON encoded EventBody to an EventBody
func (e *EventBody) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b) //will read from b
	if err := dec.Decode(e); err != nil {
		return err
	}
	return nil
}

// Hash returns the SHA256 hash of the canonical JSON encoding of the
// EventBody. Canonicalization guarantees that every node derives the same
// digest for the same body.
func (e *EventBody) Hash() ([]byte, error) {
	hashBytes, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.CanonicalSHA256(hashBytes)
}

/*******************************************************************************
Event
*******************************************************************************/

// Event is the unit of the causal chain. It contains an EventBody and a
// signature of the EventBody from the Event's creator (whose public key is
// set in the EventBody.Creator byte slice). The private fields are cached
// local computations.
type Event struct {
	Body      EventBody
	Signature string //creator's digital signature of body

	creatorID uint32
	hash      []byte
	hex       string
}

// NewEvent instantiates a new Event. The payload digest is derived from the
// payload; the clock is stored as given, so callers pass a snapshot.
func NewEvent(taskID string,
	stage string,
	creator []byte,
	inputDigest string,
	payload []byte,
	cl clock.VectorClock) *Event {

	body := EventBody{
		TaskID:        taskID,
		Stage:         stage,
		Creator:       creator,
		InputDigest:   inputDigest,
		Payload:       payload,
		PayloadDigest: PayloadDigest(payload),
		Clock:         cl,
	}
	return &Event{
		Body: body,
	}
}

// PayloadDigest computes the digest pinned in EventBody.PayloadDigest.
func PayloadDigest(payload []byte) string {
	return common.EncodeToString(crypto.SHA256(payload))
}

// CreatorID returns the compact uint32 representation of the creator's public
// key, which is the node ID used in vector clocks.
func (e *Event) CreatorID() uint32 {
	if e.creatorID == 0 {
		e.creatorID = common.Hash32(e.Body.Creator)
	}
	return e.creatorID
}

// IsGenesis says whether the event is the task's genesis event, ie. the
// admitted client submission.
func (e *Event) IsGenesis() bool {
	return e.Body.InputDigest == ""
}

// Sign signs the hash of the Event's body with an ecdsa sig
func (e *Event) Sign(privKey *ecdsa.PrivateKey) error {
	signBytes, err := e.Body.Hash()
	if err != nil {
		return err
	}

	R, S, err := keys.Sign(privKey, signBytes)
	if err != nil {
		return err
	}

	e.Signature = keys.EncodeSignature(R, S)

	return err
}

// Verify verifies the Event's signature against the creator's public key.
func (e *Event) Verify() (bool, error) {
	pubBytes := e.Body.Creator
	pubKey := keys.ToPublicKey(pubBytes)

	signBytes, err := e.Body.Hash()
	if err != nil {
		return false, err
	}

	r, s, err := keys.DecodeSignature(e.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// Hash returns the SHA256 hash of the canonical JSON-encoded body
func (e *Event) Hash() ([]byte, error) {
	if len(e.hash) == 0 {
		hash, err := e.Body.Hash()
		if err != nil {
			return nil, err
		}
		e.hash = hash
	}

	return e.hash, nil
}

// Hex returns a hex string representation of the Event's hash. This is the
// digest events are addressed by.
func (e *Event) Hex() string {
	if e.hex == "" {
		hash, _ := e.Hash()
		e.hex = common.EncodeToString(hash)
	}

	return e.hex
}

// Marshal returns the JSON encoding of the full Event, signature included.
func (e *Event) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal converts a JSON encoded Event to an Event
func (e *Event) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)
	if err := dec.Decode(e); err != nil {
		return err
	}
	return nil
}

/*******************************************************************************
Sorting

Events within a task are sorted by causal height: the sum of their vector
clock components. A descendant's clock dominates its ancestor's pointwise and
strictly somewhere, so its height is strictly greater, which makes the order
consistent with happens-before. Concurrent events can share a height; ties are
broken by creator ID, then digest. The result is a total order that every node
computes identically, whatever order events arrived in.
*******************************************************************************/

// Height returns the sum of the event clock's components.
func (e *Event) Height() uint64 {
	var h uint64
	for _, c := range e.Body.Clock {
		h += c
	}
	return h
}

// ByCausalOrder implements sort.Interface for []*Event.
// THIS IS A TOTAL ORDER.
type ByCausalOrder []*Event

// Len implements the sort.Interface
func (a ByCausalOrder) Len() int { return len(a) }

// Swap implements the sort.Interface
func (a ByCausalOrder) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

// Less implements the sort.Interface
func (a ByCausalOrder) Less(i, j int) bool {
	if a[i].Height() != a[j].Height() {
		return a[i].Height() < a[j].Height()
	}

	if a[i].CreatorID() != a[j].CreatorID() {
		return a[i].CreatorID() < a[j].CreatorID()
	}

	return a[i].Hex() < a[j].Hex()
}
