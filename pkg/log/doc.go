/*
Package log provides the process-wide structured logger, built on
zerolog. Init configures the global Logger once, at startup, from a
Config; every other package logs through log.Logger or one of the
With* helpers rather than constructing its own logger.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false, Output: os.Stderr})
	logger := log.WithComponent("reconciler")
	logger.Info().Str("machine_id", id).Msg("reconciled machine transition")

# Output modes

JSONOutput false renders zerolog's console writer (colorized, human-
readable, meant for a terminal); true emits one JSON object per line,
meant for a log collector. Level accepts zerolog's usual names (debug,
info, warn, error) and is parsed with a safe fallback to info.

# Context helpers

WithComponent/WithAppName/WithMachineID/WithVolumeID each return a
zerolog.Logger with one field pre-bound, so a call site doesn't have to
repeat `.Str("machine_id", id)` on every log line for the lifetime of an
operation scoped to that id.

# Package-level convenience

Info/Debug/Warn/Error/Errorf/Fatal log through the global Logger for
call sites that don't need a bound field; anything logging inside a
loop over machines or apps should use one of the With* helpers instead
so log lines stay correlatable.
*/
package log
