package types

import "errors"

// Error taxonomy for the pipeline. The orchestrator maps these onto
// status transitions: retrieval and transport failures escalate to
// human review, delivery failure is the one hard-failure path.
var (
	// ErrTransport indicates a collaborator was unreachable or timed out.
	ErrTransport = errors.New("collaborator transport failure")

	// ErrParse indicates a malformed structured response from a collaborator.
	ErrParse = errors.New("malformed collaborator response")

	// ErrRetrieval indicates a clone or read sequence produced zero usable
	// results (unreachable remote, missing repository, no readable files).
	ErrRetrieval = errors.New("retrieval failure")

	// ErrResource indicates a filesystem or process allocation failure.
	ErrResource = errors.New("resource allocation failure")

	// ErrDelivery indicates change-request creation failed after a valid
	// fix existed. This is the only condition mapped to status=failed.
	ErrDelivery = errors.New("change request delivery failure")
)
