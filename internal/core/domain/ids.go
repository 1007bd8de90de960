package domain

// Distinct identifier types for the concepts that travel between layers.
// They are deliberately not interchangeable: a remote id is never a path,
// and a fingerprint is never an id.

// RemoteID is the opaque identifier Dropbox assigns to a file. It is stable
// across renames and moves and is the ledger primary key.
type RemoteID string

// Fingerprint is the content hash reported by the remote listing. It changes
// iff the document bytes change.
type Fingerprint string

// RemotePath is a path inside the remote storage, either a source location
// or a target folder a document is classified into.
type RemotePath string

// Summary is the one-line summary produced by classification.
type Summary string

func (id RemoteID) String() string   { return string(id) }
func (p RemotePath) String() string  { return string(p) }
func (f Fingerprint) String() string { return string(f) }
