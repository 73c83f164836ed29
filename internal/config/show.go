package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.printf("server_url      = %q\n", cfg.ServerURL)
	ew.printf("poll_interval   = %q\n", cfg.PollInterval.Std().String())
	ew.printf("request_timeout = %q\n", cfg.RequestTimeout.Std().String())
	ew.printf("log_level       = %q\n", cfg.LogLevel)
	ew.printf("token_path      = %q\n", TokenPath(cfg))
	ew.printf("ledger_path     = %q\n", LedgerPath(cfg))

	return ew.err
}

// WriteDefault writes a commented starter config file to w, mirroring the
// defaults so a user can edit it in place.
func WriteDefault(w io.Writer) error {
	cfg := DefaultConfig()
	ew := &errWriter{w: w}

	ew.printf("# advisor-go configuration\n")
	ew.printf("# Values shown are the defaults; uncomment and edit to override.\n\n")
	ew.printf("#server_url = %q\n", cfg.ServerURL)
	ew.printf("#poll_interval = %q\n", cfg.PollInterval.Std().String())
	ew.printf("#request_timeout = %q\n", cfg.RequestTimeout.Std().String())
	ew.printf("#log_level = %q\n", cfg.LogLevel)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
