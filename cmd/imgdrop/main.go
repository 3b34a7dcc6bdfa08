package main

import (
	"fmt"
	golog "log"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithField("err", err).Fatal("Command failed")
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	defaultConfigFile := os.ExpandEnv("$HOME/lib/imgdrop/imgdrop.config")

	root := &cobra.Command{
		Use:           "imgdrop",
		Short:         "Anonymous image hosting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile, "location of configuration file")

	load := func(cmd *cobra.Command) (*config, error) {
		c, err := loadConfig(configFile)
		if os.IsNotExist(err) && !cmd.Flags().Changed("config") {
			log.WithField("path", configFile).Debug("No configuration file, using defaults")
			c, err = new(config), nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading configuration from %q: %w", configFile, err)
		}
		c.applyDefaultsForMissingProperties()
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration in %q: %w", configFile, err)
		}
		if c.Debug {
			log.SetLevel(log.DebugLevel)
		}
		return c, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newSweepCommand(load),
		newUploadCommand(load),
		newDeleteCommand(load),
	)
	return root
}

type configLoader func(*cobra.Command) (*config, error)

func redirectLogging(c *config) (cleanup func()) {
	golog.SetOutput(log.StandardLogger().Writer())
	if c.LogPath == "" {
		return func() {}
	}
	pathname := os.ExpandEnv(c.LogPath)
	logger := log.WithField("pathname", pathname)
	f, err := os.OpenFile(pathname, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		logger.WithField("err", err).Fatal("Could not open log file")
	}
	logger.Info("Lines after this one will be logged to a file")
	log.SetOutput(f)
	return func() {
		if err := f.Close(); err != nil {
			// Can't use the logger here!
			_, _ = fmt.Fprintf(os.Stderr, "Could not close log file cleanly %q: %v", pathname, err)
		}
	}
}
