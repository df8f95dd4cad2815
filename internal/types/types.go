// Package types provides common type definitions for the bucket tracker.
package types

// Provenance records who attributed a holding to a bucket
type Provenance string

const (
	// ProvenanceHuman marks a holding the user assigned by hand
	ProvenanceHuman Provenance = "human"
)

// StorageBackend selects the persistence gateway implementation
type StorageBackend string

const (
	// BackendFile stores each collection as a pretty-printed JSON file
	BackendFile StorageBackend = "file"
	// BackendPostgres stores each collection as a jsonb document row
	BackendPostgres StorageBackend = "postgres"
)

// BrokerMode selects the broker gateway implementation
type BrokerMode string

const (
	// BrokerGroww talks to the Groww trade API
	BrokerGroww BrokerMode = "groww"
	// BrokerFixture returns canned holdings, for demos and tests
	BrokerFixture BrokerMode = "fixture"
)

// Exchange identifies a stock exchange segment prefix used in LTP lookups
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
)

// UnassignedBucketID is the synthetic bucket key for holdings without a bucket
const UnassignedBucketID = "unassigned"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
