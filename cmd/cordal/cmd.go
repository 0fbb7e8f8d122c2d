package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cordal-io/cordal/core"
	"github.com/cordal-io/cordal/serv"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

// Exit codes: validation failures and configuration load failures are
// distinguishable for scripting.
const (
	exitValidation = 2
	exitConfig     = 3
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger(false).Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "cordal",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(servCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%s", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var ce *core.ConfigError
	switch {
	case errors.Is(err, serv.ErrValidationFailed):
		return exitValidation
	case errors.As(err, &ce):
		return exitConfig
	}
	return 1
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}
	cn := serv.GetConfigName()

	if conf, err = serv.ReadInConfig(path.Join(cp, cn)); err != nil {
		log.Fatal(err)
	}
}

// BuildDetails returns the version string for the root command help
func BuildDetails() string {
	if version == "" {
		return "CORDAL (unknown version)"
	}
	return fmt.Sprintf("CORDAL %s", version)
}

// newLogger creates the CLI bootstrap logger
func newLogger(json bool) *zap.Logger {
	return newLoggerWithOutput(json, os.Stdout)
}

// newLoggerWithOutput creates a new logger with a custom output
func newLoggerWithOutput(json bool, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var zcore zapcore.Core

	if json {
		zcore = zapcore.NewCore(zapcore.NewJSONEncoder(econf), output, zap.DebugLevel)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcore = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), output, zap.DebugLevel)
	}
	return zap.New(zcore)
}
