// Package cli turns the cdflow command line into an app.Config. Flags are
// layered over the settings file and environment, and usage errors are
// reported as ExitError values carrying the process exit code.
package cli
