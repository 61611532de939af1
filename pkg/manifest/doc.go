// Package manifest fetches the build manifest of an image type.
//
// The server publishes each manifest at /image/<type>/manifest.json as a
// signed wrapper whose "inner" field holds the manifest as a JSON encoded
// string:
//
//	{"cert": "...", "sig": "...", "inner": "{\"images\": [{\"timestamp\": 1700000000}]}"}
//
// Decode unwraps both layers. Signatures are carried but not verified here.
// Fetch performs a single GET with no retry and reports failures as errors
// wrapping ErrFetchFailed or ErrInvalidManifest.
package manifest
