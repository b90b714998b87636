package storage

import "fmt"

// Object layout inside the archive. Circuits are keyed by content hash so
// writes are idempotent and dedup reduces to an existence check.
const (
	circuitPrefix = "circuits"
	spoolPrefix   = "spool"
	batchPrefix   = "batches"
)

// ArtifactPath returns the archive path for a circuit's serialized payload.
func ArtifactPath(hash, method string) string {
	return fmt.Sprintf("%s/%s/circuit.%s", circuitPrefix, hash, method)
}

// MetadataPath returns the archive path for a circuit's metadata document.
func MetadataPath(hash string) string {
	return fmt.Sprintf("%s/%s/metadata.json", circuitPrefix, hash)
}

// CircuitPrefix returns the listing prefix for a single circuit's objects.
func CircuitPrefix(hash string) string {
	return fmt.Sprintf("%s/%s/", circuitPrefix, hash)
}

// BatchManifestPath returns the remote path for a batch manifest.
func BatchManifestPath(batchID string) string {
	return fmt.Sprintf("%s/%s.json", batchPrefix, batchID)
}

// SpoolPath returns the local path a failed batch is persisted under.
func SpoolPath(batchID string) string {
	return fmt.Sprintf("%s/%s.json", spoolPrefix, batchID)
}

// SpoolPrefix returns the listing prefix for spooled batches.
func SpoolPrefix() string { return spoolPrefix + "/" }
