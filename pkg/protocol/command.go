package protocol

// CommandReboot is the only command the console issues
const CommandReboot = "reboot"

// Command is the outbound envelope sent to one target host
type Command struct {
	Type   MessageType `json:"type"`
	Target string      `json:"target"`
	Data   CommandData `json:"data"`
}

// CommandData is the payload of a Command.
// Timestamp is set only when a specific build was selected.
type CommandData struct {
	Command   string `json:"command"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// NewReboot builds a reboot command for hostname, optionally onto the build
// with the given image timestamp.
func NewReboot(hostname string, timestamp *int64) Command {
	return Command{
		Type:   TypeCommand,
		Target: hostname,
		Data: CommandData{
			Command:   CommandReboot,
			Timestamp: timestamp,
		},
	}
}
