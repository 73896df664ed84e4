package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// TON Connect ton_proof, see
	// https://docs.ton.org/develop/dapps/ton-connect/sign#checking-ton_proof-on-server-side
	TonProofPrefix   = "ton-proof-item-v2/"
	TonConnectPrefix = "ton-connect"

	MaxProofAge = 5 * time.Minute
)

type Proof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`   // nonce issued by us
	Signature string      `json:"signature"` // base64
}

type ProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// VerifyProof checks a ton_proof signature for the wallet at rawAddress.
//
//	message = "ton-proof-item-v2/" ++ workchain(4 LE) ++ hash(32) ++
//	          domain_len(4 LE) ++ domain ++ timestamp(8 LE) ++ payload
//	signed  = sha256(0xffff ++ "ton-connect" ++ sha256(message))
func VerifyProof(pubKeyHex, rawAddress string, proof Proof, allowedDomains []string, now time.Time) error {
	proofTime := time.Unix(proof.Timestamp, 0)
	if now.Sub(proofTime) > MaxProofAge {
		return fmt.Errorf("proof expired: %s old", now.Sub(proofTime).Round(time.Second))
	}
	if proofTime.After(now.Add(time.Minute)) {
		return fmt.Errorf("proof timestamp is in the future")
	}

	if !isDomainAllowed(proof.Domain.Value, allowedDomains) {
		return fmt.Errorf("domain %q not in allowed list", proof.Domain.Value)
	}

	addr, err := ParseAddress(rawAddress)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	sig, err := decodeSignature(proof.Signature)
	if err != nil {
		return err
	}

	digest := ProofDigest(addr.Workchain(), addr.Data(), proof)
	if !ed25519.Verify(pubKey, digest, sig) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// ProofDigest returns the 32-byte value a wallet signs for a ton_proof.
func ProofDigest(workchain int32, addrHash []byte, proof Proof) []byte {
	msg := make([]byte, 0, len(TonProofPrefix)+4+len(addrHash)+4+len(proof.Domain.Value)+8+len(proof.Payload))
	msg = append(msg, TonProofPrefix...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, addrHash...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(proof.Domain.LengthBytes))
	msg = append(msg, proof.Domain.Value...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(proof.Timestamp))
	msg = append(msg, proof.Payload...)

	msgHash := sha256.Sum256(msg)

	full := make([]byte, 0, 2+len(TonConnectPrefix)+sha256.Size)
	full = append(full, 0xff, 0xff)
	full = append(full, TonConnectPrefix...)
	full = append(full, msgHash[:]...)

	digest := sha256.Sum256(full)
	return digest[:]
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(sig) != ed25519.SignatureSize {
		// some wallets send hex
		if h, herr := hex.DecodeString(s); herr == nil {
			sig, err = h, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return sig, nil
}

func isDomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true // dev mode
	}
	for _, d := range allowed {
		if d == domain {
			return true
		}
	}
	return false
}
