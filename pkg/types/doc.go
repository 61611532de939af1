/*
Package types defines the data model of the fleet console.

The model is a two level tree: image types keyed by name, each holding
instances keyed by hostname, plus an optional manifest of available builds.

  - ImageType: named class of machine image. Lives exactly as long as its name
    is part of the most recent image_types set.
  - Instance: one reporting host. Snapshot fields are overwritten by every
    report; IsTarget, IsStale and AgeLabel are derived.
  - Manifest / Build: the build list fetched for an image type, replaced
    wholesale on every fetch.
  - FleetSnapshot: ordered, immutable copy of the model handed to readers.
  - Preferences: operator display settings (volume id truncation and links).

FormatAge implements the age label tiering shared by staleness and uptime:

	FormatAge(59)     // "59s"
	FormatAge(60)     // "60s" (thresholds are strict)
	FormatAge(61)     // "1m"
	FormatAge(3601)   // "1h"
	FormatAge(604801) // "1w"
*/
package types
