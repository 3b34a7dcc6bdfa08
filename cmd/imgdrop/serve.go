package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/gops/agent"
	"github.com/nicolagi/imgdrop/api"
	"github.com/nicolagi/imgdrop/sweep"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve uploads over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			return serve(c)
		},
	}
}

func serve(c *config) error {
	cleanup := redirectLogging(c)
	defer cleanup()

	if !c.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := agent.Listen(agent.Options{}); err != nil {
		log.WithField("err", err).Warn("Could not start gops agent")
	} else {
		defer agent.Close()
	}

	meta, err := openMetadata(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := meta.Close(); err != nil {
			log.WithField("err", err).Warn("Could not close metadata store")
		}
	}()
	blobs, err := openBlobs(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval, _ := c.sweepInterval(); interval > 0 {
		grace, _ := c.sweepGrace()
		go sweep.Loop(ctx, interval, meta, blobs,
			sweep.WithRepair(c.Sweep.Repair),
			sweep.WithRate(c.Sweep.Rate),
			sweep.WithGracePeriod(grace),
		)
		log.WithFields(log.Fields{
			"interval": interval,
			"repair":   c.Sweep.Repair,
		}).Info("Periodic sweeps enabled")
	}

	srv := &http.Server{
		Addr: c.Listen,
		Handler: api.New(
			api.WithMetadata(meta),
			api.WithBlobs(blobs),
			api.WithPublicURL(c.PublicURL),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.WithField("addr", c.Listen).Info("Listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
