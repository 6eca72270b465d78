package task

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"

	"github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/crypto"
	"github.com/hetu-project/pohb/src/crypto/keys"
)

// VoteBody is the signed content of a Vote.
type VoteBody struct {
	// TaskID identifies the task being voted on.
	TaskID string

	// Voter is the voting node's public key in uncompressed form.
	Voter []byte

	// FinalDigest is the digest of the admissible final-stage event this node
	// endorses as the task's canonical result.
	FinalDigest string
}

// Marshal returns the JSON encoding of a VoteBody
func (v *VoteBody) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Hash returns the SHA256 hash of the canonical JSON encoding of the VoteBody.
func (v *VoteBody) Hash() ([]byte, error) {
	hashBytes, err := v.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.CanonicalSHA256(hashBytes)
}

// Vote endorses one final-stage event digest for one task. A node casts at
// most one vote per task; the first vote is binding. Votes are gossiped and
// content-addressed exactly like events.
type Vote struct {
	Body      VoteBody
	Signature string

	voterID uint32
	hash    []byte
	hex     string
}

// NewVote instantiates a new Vote.
func NewVote(taskID string, voter []byte, finalDigest string) *Vote {
	return &Vote{
		Body: VoteBody{
			TaskID:      taskID,
			Voter:       voter,
			FinalDigest: finalDigest,
		},
	}
}

// VoterID returns the compact uint32 representation of the voter's public
// key.
func (v *Vote) VoterID() uint32 {
	if v.voterID == 0 {
		v.voterID = common.Hash32(v.Body.Voter)
	}
	return v.voterID
}

// Sign signs the hash of the Vote's body with an ecdsa sig
func (v *Vote) Sign(privKey *ecdsa.PrivateKey) error {
	signBytes, err := v.Body.Hash()
	if err != nil {
		return err
	}

	R, S, err := keys.Sign(privKey, signBytes)
	if err != nil {
		return err
	}

	v.Signature = keys.EncodeSignature(R, S)

	return err
}

// Verify verifies the Vote's signature against the voter's public key.
func (v *Vote) Verify() (bool, error) {
	pubKey := keys.ToPublicKey(v.Body.Voter)

	signBytes, err := v.Body.Hash()
	if err != nil {
		return false, err
	}

	r, s, err := keys.DecodeSignature(v.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// Hash returns the SHA256 hash of the canonical JSON-encoded body
func (v *Vote) Hash() ([]byte, error) {
	if len(v.hash) == 0 {
		hash, err := v.Body.Hash()
		if err != nil {
			return nil, err
		}
		v.hash = hash
	}

	return v.hash, nil
}

// Hex returns a hex string representation of the Vote's hash.
func (v *Vote) Hex() string {
	if v.hex == "" {
		hash, _ := v.Hash()
		v.hex = common.EncodeToString(hash)
	}

	return v.hex
}
