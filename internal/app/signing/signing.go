// Package signing verifies secp256k1 signatures over data packages and
// recovers signer addresses. Verification is pure and never panics, so it can
// run inline on every ingested package.
package signing

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
)

const signatureLength = 65 // r || s || v

// serialize produces the canonical byte form a package is signed over:
// each data point's feed id followed by its value as big-endian IEEE-754
// bits, in submitted order, then the timestamp in milliseconds.
func serialize(p datapackage.ReceivedPackage) []byte {
	var buf bytes.Buffer
	for _, dp := range p.DataPoints {
		buf.WriteString(dp.DataFeedID)
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], math.Float64bits(dp.Value))
		buf.Write(v[:])
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(p.TimestampMilliseconds))
	buf.Write(ts[:])
	return buf.Bytes()
}

// PackageDigest returns the EIP-191 digest of a package's canonical form.
func PackageDigest(p datapackage.ReceivedPackage) []byte {
	return personalDigest(ethcrypto.Keccak256(serialize(p)))
}

// BatchDigest returns the digest authenticating a whole submission: the hash
// of the concatenated package hashes, in submitted order.
func BatchDigest(packages []datapackage.ReceivedPackage) []byte {
	var buf bytes.Buffer
	for _, p := range packages {
		buf.Write(ethcrypto.Keccak256(serialize(p)))
	}
	return personalDigest(ethcrypto.Keccak256(buf.Bytes()))
}

func personalDigest(hash []byte) []byte {
	return ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), hash)
}

func recoverAddress(digest, signature []byte) (string, error) {
	if len(signature) != signatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(signature))
	}
	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// RecoverSigner returns the address implied by a package's own signature.
func RecoverSigner(p datapackage.ReceivedPackage) (string, error) {
	return recoverAddress(PackageDigest(p), p.Signature)
}

// VerifyPackage reports whether the package's signature recovers to the
// claimed signer. Any recovery failure yields false, never an error.
func VerifyPackage(p datapackage.ReceivedPackage, claimedSigner string) bool {
	recovered, err := RecoverSigner(p)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, claimedSigner)
}

// RecoverBatchSigner authenticates the submitter of a batch from its
// batch-level signature. Failure is an authentication error, raised before
// any persistence side effect.
func RecoverBatchSigner(batch datapackage.SignedBatch) (string, error) {
	addr, err := recoverAddress(BatchDigest(batch.Packages), batch.RequestSignature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", datapackage.ErrAuthentication, err)
	}
	return addr, nil
}

// SignPackage signs a package with the given key. Used by node tooling and
// tests; the cache tier itself only verifies.
func SignPackage(p datapackage.ReceivedPackage, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(PackageDigest(p), key)
}

// SignBatch produces the batch-level submitter signature.
func SignBatch(packages []datapackage.ReceivedPackage, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(BatchDigest(packages), key)
}

// AddressOf returns the hex address for a private key's public half.
func AddressOf(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}
