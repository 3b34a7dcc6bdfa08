package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nicolagi/imgdrop/keys"
	"github.com/nicolagi/imgdrop/metadata"
	"github.com/nicolagi/imgdrop/storage"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxFileSize is the largest accepted upload, inclusive.
	MaxFileSize = 10 << 20

	// Room for multipart boundaries and part headers on top of the file.
	multipartOverhead = 1 << 20

	formField = "file"
)

// Accepted MIME types, with the extension used when the uploaded file name
// has none.
var acceptedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpg":  ".jpg",
	"image/jpeg": ".jpeg",
	"image/gif":  ".gif",
}

const acceptedTypesMessage = "unsupported file type, accepted types: png, jpg, jpeg, gif"

var extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,16}$`)

// UploadResponse is the body of a successful upload. The deletion key is
// never disclosed again.
type UploadResponse struct {
	LookupKey   string `json:"lookupKey"`
	DeletionKey string `json:"deletionKey"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) retrieve(c *gin.Context, logger *log.Entry) *Error {
	ctx := c.Request.Context()
	key := c.Param("lookupKey")
	if strings.TrimSpace(key) == "" {
		return newError(InvalidInput, nil, "missing lookup key")
	}
	if !keys.Valid(key) {
		return newError(NotFound, nil, "file not found")
	}
	logger = logger.WithField("key", key)

	record, err := s.opts.metadata.FindByLookupKey(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return newError(NotFound, nil, "file not found")
	}
	if err != nil {
		return newError(StoreError, err, "could not look up file")
	}

	name := record.BlobName()
	ok, err := s.opts.blobs.Exists(ctx, name)
	if err != nil {
		return newError(IOError, err, "could not check file")
	}
	if !ok {
		logger.WithField("blob", name).Warn("Record without blob")
		return newError(NotFound, nil, "file not found")
	}
	rc, err := s.opts.blobs.Open(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted since the existence check.
		return newError(NotFound, nil, "file not found")
	}
	if err != nil {
		return newError(IOError, err, "could not read file")
	}
	defer func() {
		if err := rc.Close(); err != nil {
			logger.WithField("err", err).Warn("Could not close blob")
		}
	}()

	c.Header("Content-Type", "image/"+strings.TrimPrefix(record.Extension, "."))
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		// Headers are gone already, nothing to tell the client.
		logger.WithField("err", err).Warn("Could not stream file")
		return nil
	}
	logger.Debug("Success")
	return nil
}

func (s *Server) upload(c *gin.Context, logger *log.Entry) *Error {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFileSize+multipartOverhead)
	header, err := c.FormFile(formField)
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			return newError(PayloadTooLarge, err, "file too large, maximum size is %d bytes", MaxFileSize)
		case errors.Is(err, http.ErrMissingFile):
			return newError(InvalidInput, err, "missing %q field", formField)
		default:
			return newError(InvalidInput, err, "malformed upload: %v", err)
		}
	}
	if header.Size <= 0 {
		return newError(InvalidInput, nil, "empty file")
	}
	if header.Size > MaxFileSize {
		return newError(PayloadTooLarge, nil, "file too large, maximum size is %d bytes", MaxFileSize)
	}
	contentType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil {
		return newError(UnsupportedType, err, acceptedTypesMessage)
	}
	defaultExt, ok := acceptedTypes[strings.ToLower(contentType)]
	if !ok {
		return newError(UnsupportedType, nil, acceptedTypesMessage)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !extensionPattern.MatchString(ext) {
		ext = defaultExt
	}

	lookupKey, deletionKey, err := keys.Pair(s.opts.keygen)
	if err != nil {
		return newError(StoreError, err, "could not generate keys")
	}
	record := metadata.Record{
		LookupKey:   lookupKey,
		DeletionKey: deletionKey,
		Extension:   ext,
	}
	logger = logger.WithFields(log.Fields{
		"key":  lookupKey,
		"size": header.Size,
		"type": contentType,
	})

	f, err := header.Open()
	if err != nil {
		return newError(IOError, err, "could not read upload")
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.WithField("err", err).Warn("Could not close upload")
		}
	}()

	if err := s.opts.metadata.Insert(ctx, record); err != nil {
		return newError(StoreError, err, "could not record file")
	}
	if err := s.opts.blobs.Put(ctx, record.BlobName(), f); err != nil {
		// Undo the insert so no record is left pointing at nothing.
		if derr := s.opts.metadata.DeleteByDeletionKey(ctx, deletionKey); derr != nil {
			logger.WithField("err", derr).Error("Could not remove record of failed upload")
		}
		return newError(IOError, err, "could not store file")
	}
	logger.Debug("Success")
	c.JSON(http.StatusCreated, UploadResponse{
		LookupKey:   lookupKey,
		DeletionKey: deletionKey,
	})
	return nil
}

func (s *Server) delete(c *gin.Context, logger *log.Entry) *Error {
	ctx := c.Request.Context()
	key := c.Param("deletionKey")
	if strings.TrimSpace(key) == "" {
		return newError(InvalidInput, nil, "missing deletion key")
	}
	if !keys.Valid(key) {
		return newError(NotFound, nil, "file not found")
	}

	record, err := s.opts.metadata.FindByDeletionKey(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return newError(NotFound, nil, "file not found")
	}
	if err != nil {
		return newError(StoreError, err, "could not look up file")
	}
	name := record.BlobName()
	logger = logger.WithField("key", record.LookupKey)

	ok, err := s.opts.blobs.Exists(ctx, name)
	if err != nil {
		return newError(IOError, err, "could not check file")
	}
	if !ok {
		logger.WithField("blob", name).Warn("Record without blob")
		return newError(NotFound, nil, "file not found")
	}
	// Blob first: if this fails, the record still points at it and the
	// client can retry.
	if err := s.opts.blobs.Delete(ctx, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newError(NotFound, nil, "file not found")
		}
		return newError(IOError, err, "could not delete file")
	}
	if err := s.opts.metadata.DeleteByDeletionKey(ctx, key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		// The record now points at a missing blob. Reconciliation will
		// remove it.
		return newError(StoreError, err, "file deleted, but could not delete its record")
	}
	logger.Debug("Success")
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("file %s deleted", record.LookupKey)})
	return nil
}
