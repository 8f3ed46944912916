package crdt

// ID uniquely identifies a single CRDT-level change: a character insertion,
// a map entry write, an op-log append. Replica is the minting replica's
// identity (a session id for the hub, a client id for a replica); Counter is
// that replica's local logical clock at the moment of minting. Grounded on
// the (Replica, Counter) identifier pair in the example RGA implementation
// (aggregat4-go-crdtnotes), generalized into a single scheme shared by every
// container in the document instead of one per text.
type ID struct {
	Replica string
	Counter uint64
}

// Less gives a total order over IDs: by counter first, then by replica name
// to break ties between two replicas minting concurrently. Every container
// in this package uses Less (or its complement) as its deterministic
// conflict-resolution rule, which is what makes concurrent writes converge
// to the same result on every replica regardless of delivery order.
func (a ID) Less(b ID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Replica < b.Replica
}

// Greater reports whether a strictly outranks b under Less.
func (a ID) Greater(b ID) bool {
	return b.Less(a)
}

var zeroID ID
