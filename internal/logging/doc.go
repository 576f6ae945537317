// Package logging builds the process-wide zap logger for polish.
//
// The logger is constructed once at startup from logging configuration and
// passed explicitly into components; nothing in this module reads a global
// logger. Sensitive fields (tokens, passwords) are redacted at the encoder,
// so a stray zap.String("token", ...) cannot leak credentials into the log
// file artifact.
package logging
