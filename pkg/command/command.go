package command

import (
	"errors"
	"fmt"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/protocol"
)

// ErrNoSelector is returned by SelectBuild when no version selector is open
// on the image type
var ErrNoSelector = errors.New("no version selector open")

// Sender transmits an outbound message on the operator channel
type Sender interface {
	Send(v any) error
}

// Selectors exposes the version selector state of the model
type Selectors interface {
	SelectorHost(imageType string) (string, error)
	CloseSelector(imageType string) error
}

// Issuer turns operator intent into command messages. Commands are fire and
// forget: the only confirmation is a later report from the instance.
type Issuer struct {
	sender    Sender
	selectors Selectors
}

// NewIssuer creates an issuer. Like the model it reads, it must only be used
// from the console loop.
func NewIssuer(sender Sender, selectors Selectors) *Issuer {
	return &Issuer{
		sender:    sender,
		selectors: selectors,
	}
}

// IssueReboot asks hostname to reboot. With a nil timestamp the instance
// reboots onto whatever it already considers next; otherwise onto the build
// with that timestamp. A command issued while disconnected is dropped and
// client.ErrNotConnected is returned.
func (i *Issuer) IssueReboot(hostname string, timestamp *int64) error {
	cmd := protocol.NewReboot(hostname, timestamp)

	logger := log.WithHostname(hostname).With().Str("component", "command").Logger()
	if timestamp != nil {
		logger = logger.With().Int64("timestamp", *timestamp).Logger()
	}

	if err := i.sender.Send(cmd); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			metrics.CommandsTotal.WithLabelValues("dropped").Inc()
			logger.Warn().Msg("Dropped reboot command, not connected")
			return err
		}
		metrics.CommandsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Failed to send reboot command")
		return fmt.Errorf("failed to issue reboot to %s: %w", hostname, err)
	}

	metrics.CommandsTotal.WithLabelValues("sent").Inc()
	logger.Info().Msg("Sent reboot command")
	return nil
}

// SelectBuild reboots the host whose version selector is open on imageType
// onto the build with timestamp, and closes the selector. The selector is
// closed as soon as the command is issued, whether or not it was delivered.
// It returns the hostname the command was addressed to.
func (i *Issuer) SelectBuild(imageType string, timestamp int64) (string, error) {
	hostname, err := i.selectors.SelectorHost(imageType)
	if err != nil {
		return "", err
	}
	if hostname == "" {
		return "", fmt.Errorf("%w: %s", ErrNoSelector, imageType)
	}

	sendErr := i.IssueReboot(hostname, &timestamp)

	if err := i.selectors.CloseSelector(imageType); err != nil {
		return hostname, err
	}
	return hostname, sendErr
}
