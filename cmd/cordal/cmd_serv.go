package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cordal-io/cordal/serv"
)

// servCmd is the cobra CLI command for the serve subcommand
func servCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the CORDAL service",
		RunE:    cmdServ,
	}
}

// cmdServ is the handler for the serve subcommand
func cmdServ(cmd *cobra.Command, _ []string) error {
	setup(cpath)

	zlog := serv.NewLogger(conf)
	defer zlog.Sync() //nolint:errcheck

	s, err := serv.NewService(conf, zlog)
	if err != nil {
		return err
	}

	if conf.Validation.ValidateOnly {
		return runValidation(cmd.Context(), s)
	}

	if err := s.Bootstrap(context.Background()); err != nil {
		return err
	}
	return s.Start()
}
