package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rogpeppe/rjson"
)

type config struct {
	Listen    string `json:"listen"`
	PublicURL string `json:"public_url"`
	Debug     bool   `json:"debug"`
	LogPath   string `json:"log_path"`

	Metadata struct {
		Type string `json:"type"`

		// Properties for "sqlite" and "bolt" types.
		Path string `json:"path"`

		// Properties for "dynamodb" type.
		Profile string  `json:"profile"`
		Region  string  `json:"region"`
		Table   string  `json:"table"`
		Rate    float64 `json:"rate"`
	} `json:"metadata"`

	Blobs struct {
		Type string `json:"type"`

		// Properties for "disk" type.
		Path string `json:"path"`

		// Properties for "s3" type.
		Profile string `json:"profile"`
		Region  string `json:"region"`
		Bucket  string `json:"bucket"`
	} `json:"blobs"`

	Sweep struct {
		// Zero or empty disables periodic sweeps in the server.
		Interval string  `json:"interval"`
		Grace    string  `json:"grace"`
		Repair   bool    `json:"repair"`
		Rate     float64 `json:"rate"`
	} `json:"sweep"`
}

func loadConfig(pathname string) (*config, error) {
	f, err := os.Open(pathname)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	var c *config
	if err := rjson.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("could not decode %q: %w", pathname, err)
	}
	if c == nil {
		c = new(config)
	}
	return c, nil
}

func (c *config) applyDefaultsForMissingProperties() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.Metadata.Type == "" {
		c.Metadata.Type = "sqlite"
	}
	if c.Metadata.Path == "" {
		switch c.Metadata.Type {
		case "bolt":
			c.Metadata.Path = "$HOME/lib/imgdrop/uploads.bolt"
		default:
			c.Metadata.Path = "$HOME/lib/imgdrop/uploads.db"
		}
	}
	if c.Blobs.Type == "" {
		c.Blobs.Type = "disk"
	}
	if c.Blobs.Path == "" {
		c.Blobs.Path = "$HOME/lib/imgdrop/uploads"
	}
	if c.Sweep.Grace == "" {
		c.Sweep.Grace = "30s"
	}
	if c.Sweep.Rate == 0 {
		c.Sweep.Rate = 50
	}
}

func (c *config) validate() error {
	switch c.Metadata.Type {
	case "sqlite", "bolt", "dynamodb":
	default:
		return fmt.Errorf("unknown metadata type %q", c.Metadata.Type)
	}
	switch c.Blobs.Type {
	case "disk", "s3":
	default:
		return fmt.Errorf("unknown blobs type %q", c.Blobs.Type)
	}
	if _, err := c.sweepInterval(); err != nil {
		return err
	}
	if _, err := c.sweepGrace(); err != nil {
		return err
	}
	return nil
}

func (c *config) sweepInterval() (time.Duration, error) {
	if c.Sweep.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Sweep.Interval)
	if err != nil {
		return 0, fmt.Errorf("sweep interval: %w", err)
	}
	return d, nil
}

func (c *config) sweepGrace() (time.Duration, error) {
	d, err := time.ParseDuration(c.Sweep.Grace)
	if err != nil {
		return 0, fmt.Errorf("sweep grace: %w", err)
	}
	return d, nil
}
