// Package datapackage defines the data-package domain model shared by the
// ingestion and query paths.
package datapackage

import "time"

// AllFeedsID is the reserved feed identifier recorded for a package that
// bundles data points for more than one feed.
const AllFeedsID = "___ALL_FEEDS___"

// DataPoint is a single reported value for one feed. The value semantics are
// opaque to this tier; it is stored and served exactly as submitted.
type DataPoint struct {
	DataFeedID string  `json:"dataFeedId"`
	Value      float64 `json:"value"`
}

// ReceivedPackage is a signed bundle of data points as submitted by a
// reporting node. DataPoints is never empty for a valid package.
type ReceivedPackage struct {
	DataPoints            []DataPoint `json:"dataPoints"`
	TimestampMilliseconds int64       `json:"timestampMilliseconds"`
	Signature             []byte      `json:"signature"`
}

// Timestamp returns the package timestamp as a time.Time.
func (p ReceivedPackage) Timestamp() time.Time {
	return time.UnixMilli(p.TimestampMilliseconds).UTC()
}

// SignedBatch is the bulk-submission unit: an ordered sequence of packages
// plus a batch-level signature authenticating the submitter.
type SignedBatch struct {
	Packages         []ReceivedPackage `json:"dataPackages"`
	RequestSignature []byte            `json:"requestSignature"`
}

// CachedPackage is the persisted form of a received package, stamped with
// provenance at ingestion time. It is never mutated after creation; packages
// with invalid signatures are persisted too, flagged, for audit.
type CachedPackage struct {
	ReceivedPackage

	DataServiceID    string `json:"dataServiceId"`
	SignerAddress    string `json:"signerAddress"`
	DataFeedID       string `json:"dataFeedId"`
	IsSignatureValid bool   `json:"isSignatureValid"`
}

// DataPackagesResponse maps feed ids to the selected packages, one entry per
// distinct signer for that feed.
type DataPackagesResponse map[string][]CachedPackage

// FeedIDFor derives the logical feed identity of a package: the single
// contained feed id when the package carries exactly one data point, the
// all-feeds sentinel otherwise.
func FeedIDFor(p ReceivedPackage) string {
	if len(p.DataPoints) == 1 {
		return p.DataPoints[0].DataFeedID
	}
	return AllFeedsID
}
