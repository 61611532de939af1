// Package protocol defines the JSON messages exchanged on the operator channel.
//
// Inbound frames are envelopes of the form {"type": ..., "data": ...}. Decode
// turns a frame into one of a closed set of Message variants (ImageTypes,
// Report, Targets, NewManifest) or Unknown for types the console does not
// handle. Frames that are not valid envelopes, or whose data does not match
// the declared type, return an error wrapping ErrMalformed.
//
// The only outbound message is Command, built with NewReboot.
package protocol
