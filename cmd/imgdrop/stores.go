package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/nicolagi/imgdrop/metadata"
	"github.com/nicolagi/imgdrop/storage"
	log "github.com/sirupsen/logrus"
)

func openMetadata(c *config) (metadata.Store, error) {
	switch c.Metadata.Type {
	case "sqlite", "bolt":
		file := os.ExpandEnv(c.Metadata.Path)
		if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
			return nil, fmt.Errorf("could not ensure directory for %q exists: %w", file, err)
		}
		log.Infof("Will use a %s database at %s for metadata", c.Metadata.Type, file)
		if c.Metadata.Type == "sqlite" {
			return metadata.NewSQLiteStore(file)
		}
		db, err := bolt.Open(file, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("could not open database %q: %w", file, err)
		}
		store, err := metadata.NewBoltStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case "dynamodb":
		log.Infof("Will use DynamoDB table %s in %s for metadata", c.Metadata.Table, c.Metadata.Region)
		return metadata.NewDynamoDBStore(
			c.Metadata.Profile,
			c.Metadata.Region,
			c.Metadata.Table,
			metadata.WithRequestRate(c.Metadata.Rate),
		)
	default:
		return nil, fmt.Errorf("unknown metadata type %q", c.Metadata.Type)
	}
}

func openBlobs(c *config) (storage.BlobStore, error) {
	switch c.Blobs.Type {
	case "disk":
		dir := os.ExpandEnv(c.Blobs.Path)
		log.Infof("Will use a disk-based backend storing data at %s", dir)
		return storage.NewDiskStore(dir)
	case "s3":
		log.Infof("Will use S3 bucket %s in %s for data", c.Blobs.Bucket, c.Blobs.Region)
		return storage.NewS3(c.Blobs.Profile, c.Blobs.Region, c.Blobs.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown blobs type %q", c.Blobs.Type)
	}
}
