package domain

import "time"

// RemoteEntry is one file from the remote inbox listing.
type RemoteEntry struct {
	ID          RemoteID
	Name        string
	Path        RemotePath
	Fingerprint Fingerprint
}

// DocumentRecord is the ledger row for one remote document identity.
// Rows are created by the scanner, mutated only by the collector side of a
// stage, and never deleted.
type DocumentRecord struct {
	ID            RemoteID
	Name          string
	Path          RemotePath
	Fingerprint   Fingerprint
	Status        Status
	Title         string
	Authors       []string
	Summary       Summary
	Abstract      string
	TargetFolders []RemotePath
	LastError     string
	UpdatedAt     time.Time
}

// ArticleMetadata is what classification extracts from a document.
type ArticleMetadata struct {
	Title    string
	Authors  []string
	Summary  Summary
	Abstract string
}

// Job is the unit of work handed to one worker: immutable and cheap to copy.
type Job struct {
	ID   RemoteID
	Name string
	Path RemotePath
}

// JobResult is the outcome of processing one Job. Exactly one worker produces
// it and exactly one collector iteration consumes it. Err == nil means
// success; ErrNoExtractableText marks the skipped outcome, any other error
// the error outcome.
type JobResult struct {
	ID            RemoteID
	Meta          ArticleMetadata
	TargetFolders []RemotePath
	Err           error
}
