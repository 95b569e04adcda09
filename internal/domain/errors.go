package domain

import "errors"

// Sentinel errors returned by storage implementations and checked by
// callers with errors.Is.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("domain: resource not found")

	// ErrGroupNotFound indicates a manifest references an unknown group.
	ErrGroupNotFound = errors.New("domain: manifest group not found")

	// ErrDuplicateExternalID indicates a manifest upsert collided with an
	// existing ExternalID owned by a different row (should not happen
	// under normal upsert semantics, but guards against races).
	ErrDuplicateExternalID = errors.New("domain: duplicate external id")

	// ErrCyclicDependency indicates a Dependent manifest chain forms a
	// cycle and was rejected before being persisted.
	ErrCyclicDependency = errors.New("domain: cyclic manifest dependency")

	// ErrInvalidManifest indicates a manifest failed structural
	// validation (bad schedule fields, missing parent, etc).
	ErrInvalidManifest = errors.New("domain: invalid manifest")

	// ErrAlreadyDispatched indicates a work-queue row was claimed by
	// another dispatcher between selection and update.
	ErrAlreadyDispatched = errors.New("domain: work queue entry already dispatched")

	// ErrNotOwner indicates a caller attempted to mutate a metadata or
	// dead-letter row it does not hold the lease/ownership token for.
	ErrNotOwner = errors.New("domain: caller does not own this row")
)
