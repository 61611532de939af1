/*
Package log provides structured logging for fleetconsole using zerolog.

The package wraps a single global zerolog.Logger that every other package
derives component loggers from. Output defaults to stderr because the watch
command owns stdout for the fleet table.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
	})

Component loggers:

	logger := log.WithComponent("client")
	logger.Info().Str("url", url).Msg("Connected to server")

Context fields used across the console:

  - component: client, console, manifest, command, api, storage
  - image_type: image type a message or fetch refers to
  - hostname: instance a report or command refers to
*/
package log
