// Package plan computes the reconciliation plan between the remote
// inventory, the local mirror manifest and the remote index manifest.
// Building a plan is pure: no I/O, no mutation of inputs.
package plan

import (
	"time"

	"github.com/Deyu-Zhang/canvas-ai/internal/inventory"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// Classification is the sync state of one remote file.
type Classification string

const (
	UpToDate          Classification = "up_to_date"
	MissingLocally    Classification = "missing_locally"
	Changed           Classification = "changed"
	MissingInIndex    Classification = "missing_in_index"
	KnownInaccessible Classification = "known_inaccessible"
	ExtraInIndex      Classification = "extra_in_index"
)

// Key identifies one remote file across all three manifests.
type Key struct {
	CourseID int64
	RemoteID int64
}

// Plan partitions every known remote file into exactly one
// classification. Recomputed on every status check, never mutated.
type Plan struct {
	BuiltAt time.Time

	UpToDate       []inventory.RemoteFile
	MissingLocally []inventory.RemoteFile
	Changed        []inventory.RemoteFile
	MissingInIndex []inventory.RemoteFile
	Inaccessible   []inventory.RemoteFile

	// ExtraInIndex holds index entries whose remote file disappeared
	// from the inventory. Prunable by explicit operator action only,
	// never deleted automatically.
	ExtraInIndex []store.IndexedEntry
}

// Build classifies each remote file, in priority order:
//
//  1. tracked inaccessible
//  2. no local entry -> missing locally
//  3. local fingerprint differs (or entry is stale) -> changed
//  4. no index entry, or index fingerprint differs -> missing in index
//  5. otherwise up to date
//
// A changed file is classified changed even when an index entry
// exists: it must be re-downloaded before any re-upload, so step 3
// deliberately supersedes step 4.
func Build(
	remote []inventory.RemoteFile,
	local []store.LocalEntry,
	indexed []store.IndexedEntry,
	inaccessible map[Key]bool,
) *Plan {
	localByKey := make(map[Key]store.LocalEntry, len(local))
	for _, e := range local {
		localByKey[Key{e.CourseID, e.RemoteID}] = e
	}
	indexedByKey := make(map[Key]store.IndexedEntry, len(indexed))
	for _, e := range indexed {
		indexedByKey[Key{e.CourseID, e.RemoteID}] = e
	}

	p := &Plan{BuiltAt: time.Now()}
	remoteKeys := make(map[Key]bool, len(remote))

	for _, rf := range remote {
		key := Key{rf.CourseID, rf.RemoteID}
		remoteKeys[key] = true

		switch {
		case inaccessible[key]:
			p.Inaccessible = append(p.Inaccessible, rf)

		case !hasLocal(localByKey, key):
			p.MissingLocally = append(p.MissingLocally, rf)

		case localByKey[key].Fingerprint != rf.Fingerprint || localByKey[key].Stale:
			p.Changed = append(p.Changed, rf)

		case !hasIndexed(indexedByKey, key) ||
			indexedByKey[key].Fingerprint != localByKey[key].Fingerprint:
			p.MissingInIndex = append(p.MissingInIndex, rf)

		default:
			p.UpToDate = append(p.UpToDate, rf)
		}
	}

	for _, e := range indexed {
		if !remoteKeys[Key{e.CourseID, e.RemoteID}] {
			p.ExtraInIndex = append(p.ExtraInIndex, e)
		}
	}

	return p
}

func hasLocal(m map[Key]store.LocalEntry, k Key) bool {
	_, ok := m[k]
	return ok
}

func hasIndexed(m map[Key]store.IndexedEntry, k Key) bool {
	_, ok := m[k]
	return ok
}

// Downloads returns the files needing a fresh local copy, in plan order.
func (p *Plan) Downloads() []inventory.RemoteFile {
	out := make([]inventory.RemoteFile, 0, len(p.MissingLocally)+len(p.Changed))
	out = append(out, p.MissingLocally...)
	out = append(out, p.Changed...)
	return out
}

// Uploads returns the files whose index entry is absent or stale but
// whose local copy is already current. Files in Downloads() are
// uploaded by their download task after the new bytes land.
func (p *Plan) Uploads() []inventory.RemoteFile {
	return p.MissingInIndex
}

// MissingCount is the number of files requiring any work.
func (p *Plan) MissingCount() int {
	return len(p.MissingLocally) + len(p.Changed) + len(p.MissingInIndex)
}

// TotalRemote is the number of remote files the plan covers.
func (p *Plan) TotalRemote() int {
	return len(p.UpToDate) + len(p.MissingLocally) + len(p.Changed) +
		len(p.MissingInIndex) + len(p.Inaccessible)
}

// Counts returns per-classification totals.
func (p *Plan) Counts() map[Classification]int {
	return map[Classification]int{
		UpToDate:          len(p.UpToDate),
		MissingLocally:    len(p.MissingLocally),
		Changed:           len(p.Changed),
		MissingInIndex:    len(p.MissingInIndex),
		KnownInaccessible: len(p.Inaccessible),
		ExtraInIndex:      len(p.ExtraInIndex),
	}
}
