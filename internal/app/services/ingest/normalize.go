package ingest

import (
	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/internal/app/signing"
)

// Normalize stamps a received package with its provenance: the signer, the
// signer's data-service partition, the logical feed id, and the signature
// validity flag. An unknown signer fails with oraclestate.ErrUnknownSigner;
// an invalid signature does not fail, it is recorded on the flag so the
// package is persisted for audit.
func Normalize(p datapackage.ReceivedPackage, signerAddress string, state oraclestate.State) (datapackage.CachedPackage, error) {
	dataServiceID, err := state.PartitionForSigner(signerAddress)
	if err != nil {
		return datapackage.CachedPackage{}, err
	}
	return datapackage.CachedPackage{
		ReceivedPackage:  p,
		DataServiceID:    dataServiceID,
		SignerAddress:    signerAddress,
		DataFeedID:       datapackage.FeedIDFor(p),
		IsSignatureValid: signing.VerifyPackage(p, signerAddress),
	}, nil
}
