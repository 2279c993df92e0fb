package storage

// WriteOption tunes a single MergeFields call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	ifRevision *int64
}

// IfRevision makes the merge conditional on the target object's "rev" field
// still being rev. The merge stores rev+1. A mismatch, or a missing target,
// fails with domain.ErrConflictDetected.
func IfRevision(rev int64) WriteOption {
	return func(o *writeOptions) {
		o.ifRevision = &rev
	}
}

func collectOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
