package types

import (
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Code: "BROKER_FAILURE", Message: "broker unreachable"}
	if err.Error() != "broker unreachable" {
		t.Errorf("Error() = %q, want %q", err.Error(), "broker unreachable")
	}
}

func TestProvenanceValues(t *testing.T) {
	if ProvenanceHuman != "human" {
		t.Errorf("ProvenanceHuman = %q, want %q", ProvenanceHuman, "human")
	}
	if UnassignedBucketID != "unassigned" {
		t.Errorf("UnassignedBucketID = %q, want %q", UnassignedBucketID, "unassigned")
	}
}
