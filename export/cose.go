package export

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/spectrumauctions/sats/core"
)

// SignResult wraps the deterministic CBOR encoding of res in a COSE_Sign1
// envelope signed with ES256.
func SignResult(res *core.MechanismResult, key *ecdsa.PrivateKey) ([]byte, error) {
	payload, err := MarshalResult(res)
	if err != nil {
		return nil, err
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: "application/cbor",
		},
	}
	envelope, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign result: %w", err)
	}
	return envelope, nil
}

// ExtractPayload returns the payload of a COSE_Sign1 envelope without
// checking its signature. Both tagged and untagged envelopes are accepted.
func ExtractPayload(envelope []byte) ([]byte, error) {
	msg, err := decodeSign1(envelope)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// VerifyResult checks an envelope produced by SignResult against pub and
// decodes the signed result.
func VerifyResult(envelope []byte, pub *ecdsa.PublicKey) (*ResultRecord, error) {
	msg, err := decodeSign1(envelope)
	if err != nil {
		return nil, err
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return UnmarshalResult(msg.Payload)
}

func decodeSign1(envelope []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(envelope); err == nil {
		return &msg, nil
	}

	// Untagged form: [protected, unprotected, payload, signature].
	var untagged cose.UntaggedSign1Message
	if err := untagged.UnmarshalCBOR(envelope); err != nil {
		var parts []cbor.RawMessage
		if cbor.Unmarshal(envelope, &parts) == nil && len(parts) != 4 {
			return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(parts))
		}
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	msg = cose.Sign1Message(untagged)
	return &msg, nil
}
