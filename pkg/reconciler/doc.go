/*
Package reconciler owns the console's model of the fleet and applies the
server's message stream to it.

The server pushes a partial, unordered view of the fleet: whole image type
sets, single instance reports, whole target sets and manifest change
notifications. The reconciler turns that stream into a consistent tree of
image types, instances and manifests.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                      Console loop                          │
	│        (single goroutine, one event at a time)             │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	   ┌─────────────┼──────────────┬───────────────┬──────────────┐
	   ▼             ▼              ▼               ▼              ▼
	ApplyImageTypes ApplyReport  ApplyTargets  RecomputeStaleness ReplaceManifest
	   │             │              │               │              │
	   ▼             ▼              ▼               ▼              ▼
	 set diff     overwrite      overwrite      IsStale +       wholesale
	 (absence =   snapshot       IsTarget on    AgeLabel on     replace
	  deletion)   fields         every instance every instance

# Reconciliation Rules

Image types: the set of image types always equals the most recent
image_types message. Names missing from a new set are deleted together with
their instances; new names are created empty and returned so the caller can
fetch their manifest.

Reports: a report for an image type outside the current set returns
ErrUnknownImageType and changes nothing. Otherwise the instance is created on
first sight and every snapshot field is overwritten. LastReport is the local
receipt time passed by the caller, never a timestamp from the payload, so
clock skew between reporting hosts does not affect staleness.

Targets: IsTarget of every instance is overwritten with membership in the
latest target set. The set is remembered so instances created later start
with the right value.

Staleness: an instance is stale when at least 15 seconds passed since its last
report. RecomputeStaleness is called on every tick and reports flips in both
directions; nothing is sticky.

Manifests: replaced wholesale in server order. A failed fetch keeps the old
manifest and records the error on the image type.

# Concurrency

Reconciler has no locks. It must be owned by exactly one goroutine. Other
goroutines read Snapshot copies published by the owner.

# Usage

	r := reconciler.NewReconciler()

	added, removed := r.ApplyImageTypes([]string{"ubuntu"})
	// added == ["ubuntu"], fetch its manifest

	if _, err := r.ApplyReport(report, time.Now()); errors.Is(err, reconciler.ErrUnknownImageType) {
		// drop the message
	}

	for _, change := range r.RecomputeStaleness(time.Now()) {
		fmt.Printf("%s stale=%v\n", change.Hostname, change.Stale)
	}
*/
package reconciler
