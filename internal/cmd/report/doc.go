// Package report contains the relay CLI commands: replaying log files as
// launches and managing the local dead-letter store.
package report
