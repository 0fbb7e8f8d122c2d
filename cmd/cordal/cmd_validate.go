package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordal-io/cordal/serv"
)

// validateCmd is the cobra CLI command for the validate subcommand
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Long: "Load every descriptor from the configured source, run full " +
			"validation and report the result without starting the server.",
		RunE: cmdValidate,
	}
}

// cmdValidate is the handler for the validate subcommand
func cmdValidate(cmd *cobra.Command, _ []string) error {
	setup(cpath)

	zlog := serv.NewLogger(conf)
	defer zlog.Sync() //nolint:errcheck

	s, err := serv.NewService(conf, zlog)
	if err != nil {
		return err
	}
	return runValidation(cmd.Context(), s)
}

// runValidation loads, validates, prints the report, and returns
// ErrValidationFailed when errors were found.
func runValidation(ctx context.Context, s *serv.Service) error {
	rep, err := s.Validate(ctx)
	if err != nil {
		return err
	}

	for _, w := range rep.Warnings {
		log.Warnf("warning: %s", w)
	}
	for _, e := range rep.Errors {
		log.Errorf("error: %s", e)
	}

	if !rep.Valid() {
		return fmt.Errorf("%w: %d error(s), %d warning(s)",
			serv.ErrValidationFailed, len(rep.Errors), len(rep.Warnings))
	}
	log.Infof("configuration valid: %d warning(s)", len(rep.Warnings))
	return nil
}
