// Package render formats fleet snapshots for a terminal.
//
// Volume ids are shortened and linked according to the operator's
// preferences; the snapshot itself always carries the full values. Styling
// uses lipgloss and degrades to plain text when the output is not a terminal.
package render
