// Package sweep reconciles the metadata store with the blob store. Uploads
// insert the record before writing the blob, and deletes remove the blob
// before the record, so a crash or a failed step can leave either a record
// without a blob or a blob without a record. A sweep finds both kinds and,
// if asked to, removes them.
package sweep // import "github.com/nicolagi/imgdrop/sweep"

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nicolagi/imgdrop/metadata"
	"github.com/nicolagi/imgdrop/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Option func(*options)

type options struct {
	repair  bool
	limiter *rate.Limiter
	grace   time.Duration
}

// WithRepair makes the sweep delete the faults it finds, rather than only
// reporting them.
func WithRepair(value bool) Option {
	return func(o *options) {
		o.repair = value
	}
}

// WithRate caps the number of store requests per second issued while
// re-checking and repairing. Zero means no cap.
func WithRate(perSecond float64) Option {
	return func(o *options) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			o.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// WithGracePeriod sets how long to wait before re-checking candidate faults,
// so that uploads and deletes in progress are not taken for faults.
func WithGracePeriod(value time.Duration) Option {
	return func(o *options) {
		o.grace = value
	}
}

// Report is the outcome of one sweep.
type Report struct {
	Records int
	Blobs   int

	// Records whose blob is missing.
	OrphanedRecords []metadata.Record

	// Blobs no record refers to.
	OrphanedBlobs []string

	// How many of the above were removed.
	Repaired int
}

// Faults is the number of inconsistencies found.
func (r Report) Faults() int {
	return len(r.OrphanedRecords) + len(r.OrphanedBlobs)
}

func Run(ctx context.Context, meta metadata.Store, blobs storage.BlobStore, opts ...Option) (report Report, err error) {
	o := options{
		limiter: rate.NewLimiter(rate.Inf, 1),
		grace:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Blobs before records: a blob is only ever written after its record
	// was inserted, so every listed blob of a live upload has a listed record.
	names, err := blobs.List(ctx)
	if err != nil {
		return report, err
	}
	records, err := meta.List(ctx)
	if err != nil {
		return report, err
	}
	report.Records = len(records)
	report.Blobs = len(names)

	listed := make(map[string]bool, len(names))
	for _, name := range names {
		listed[name] = true
	}
	referenced := make(map[string]bool, len(records))
	var recordCandidates []metadata.Record
	for _, r := range records {
		referenced[r.BlobName()] = true
		if !listed[r.BlobName()] {
			recordCandidates = append(recordCandidates, r)
		}
	}
	var blobCandidates []string
	for _, name := range names {
		if !referenced[name] {
			blobCandidates = append(blobCandidates, name)
		}
	}
	if len(recordCandidates) == 0 && len(blobCandidates) == 0 {
		return report, nil
	}

	if o.grace > 0 {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(o.grace):
		}
	}

	for _, r := range recordCandidates {
		orphaned, err := recordOrphaned(ctx, o.limiter, meta, blobs, r)
		if err != nil {
			return report, err
		}
		if !orphaned {
			continue
		}
		report.OrphanedRecords = append(report.OrphanedRecords, r)
		logger := log.WithFields(log.Fields{
			"key":  r.LookupKey,
			"blob": r.BlobName(),
		})
		if !o.repair {
			logger.Warn("Record without blob")
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return report, err
		}
		if err := meta.DeleteByDeletionKey(ctx, r.DeletionKey); err != nil && !errors.Is(err, metadata.ErrNotFound) {
			logger.WithField("err", err).Error("Could not remove record without blob")
			continue
		}
		logger.Info("Removed record without blob")
		report.Repaired++
	}

	for _, name := range blobCandidates {
		orphaned, err := blobOrphaned(ctx, o.limiter, meta, blobs, name)
		if err != nil {
			return report, err
		}
		if !orphaned {
			continue
		}
		report.OrphanedBlobs = append(report.OrphanedBlobs, name)
		logger := log.WithField("blob", name)
		if !o.repair {
			logger.Warn("Blob without record")
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return report, err
		}
		if err := blobs.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.WithField("err", err).Error("Could not remove blob without record")
			continue
		}
		logger.Info("Removed blob without record")
		report.Repaired++
	}
	return report, nil
}

func recordOrphaned(ctx context.Context, limiter *rate.Limiter, meta metadata.Store, blobs storage.BlobStore, r metadata.Record) (bool, error) {
	if err := limiter.Wait(ctx); err != nil {
		return false, err
	}
	if _, err := meta.FindByLookupKey(ctx, r.LookupKey); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			// Deleted in the meantime.
			return false, nil
		}
		return false, err
	}
	if err := limiter.Wait(ctx); err != nil {
		return false, err
	}
	ok, err := blobs.Exists(ctx, r.BlobName())
	return !ok, err
}

func blobOrphaned(ctx context.Context, limiter *rate.Limiter, meta metadata.Store, blobs storage.BlobStore, name string) (bool, error) {
	if err := limiter.Wait(ctx); err != nil {
		return false, err
	}
	ok, err := blobs.Exists(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	// Keys have no dots, so the lookup key is whatever precedes the first one.
	lookupKey := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		lookupKey = name[:i]
	}
	if err := limiter.Wait(ctx); err != nil {
		return false, err
	}
	r, err := meta.FindByLookupKey(ctx, lookupKey)
	if errors.Is(err, metadata.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return r.BlobName() != name, nil
}

// Loop runs a sweep every interval until ctx is done. Failed sweeps are
// logged and retried at the next tick.
func Loop(ctx context.Context, interval time.Duration, meta metadata.Store, blobs storage.BlobStore, opts ...Option) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report, err := Run(ctx, meta, blobs, opts...)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.WithField("err", err).Error("Sweep failed")
			}
			continue
		}
		log.WithFields(log.Fields{
			"records":  report.Records,
			"blobs":    report.Blobs,
			"faults":   report.Faults(),
			"repaired": report.Repaired,
		}).Info("Sweep done")
	}
}
