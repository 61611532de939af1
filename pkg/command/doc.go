// Package command issues operator commands to fleet instances.
//
// The only command is reboot, optionally onto a specific build:
//
//	{"type": "command", "target": "h1", "data": {"command": "reboot", "timestamp": 1700000000}}
//
// SelectBuild implements the manifest selection flow. The operator opens the
// version selector of an image type for one host, picks a build from the
// manifest, and the issuer sends the reboot and closes the selector at once.
// Nothing waits for an acknowledgement.
package command
