// Package api implements the HTTP surface of the service.
//
// Four routes are served, all of them open to cross-origin requests:
//
//	GET  /                       descriptor for uploader clients (JSON)
//	GET  /{lookupKey}            the stored file, streamed
//	POST /upload                 multipart upload, field "file"
//	GET  /delete/{deletionKey}   removes a stored file
//
// Failures are always answered with a JSON body of the form {"error": "..."}.
package api // import "github.com/nicolagi/imgdrop/api"

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nicolagi/imgdrop/keys"
	"github.com/nicolagi/imgdrop/metadata"
	"github.com/nicolagi/imgdrop/storage"
	log "github.com/sirupsen/logrus"
)

type Option func(*options)

type options struct {
	metadata  metadata.Store
	blobs     storage.BlobStore
	publicURL string
	keygen    keys.Generator
}

func WithMetadata(value metadata.Store) Option {
	return func(o *options) {
		o.metadata = value
	}
}

func WithBlobs(value storage.BlobStore) Option {
	return func(o *options) {
		o.blobs = value
	}
}

// WithPublicURL sets the base URL advertised in the descriptor. Without it,
// the base URL is derived from each request.
func WithPublicURL(value string) Option {
	return func(o *options) {
		o.publicURL = value
	}
}

func WithKeyGenerator(value keys.Generator) Option {
	return func(o *options) {
		o.keygen = value
	}
}

// Server routes requests to the handlers. The stores it is given are shared
// by all requests; the Server does not close them.
type Server struct {
	opts   options
	engine *gin.Engine
}

func New(opts ...Option) *Server {
	s := &Server{}
	s.opts.keygen = keys.New
	for _, o := range opts {
		o(&s.opts)
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}

	s.engine = gin.New()
	s.engine.Use(logRequests(), gin.Recovery(), cors.New(corsConfig))
	s.engine.GET("/", s.describe)
	s.engine.GET("/:lookupKey", s.handle(s.retrieve))
	s.engine.POST("/upload", s.handle(s.upload))
	s.engine.GET("/delete/:deletionKey", s.handle(s.delete))
	return s
}

// Handler returns the handler to be passed to an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handle adapts a handler that reports failures by returning them. A handler
// returning nil has written the response already.
func (s *Server) handle(fn func(*gin.Context, *log.Entry) *Error) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.WithFields(log.Fields{
			"op":   c.Request.Method,
			"path": c.Request.URL.Path,
		})
		e := fn(c, logger)
		if e == nil {
			return
		}
		logger = logger.WithField("kind", e.Kind)
		if e.Err != nil {
			logger = logger.WithField("err", e.Err)
		}
		if e.Kind.Status() >= http.StatusInternalServerError {
			logger.Error(e.Message)
		} else {
			logger.Debug(e.Message)
		}
		c.AbortWithStatusJSON(e.Kind.Status(), gin.H{"error": e.Message})
	}
}

func logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"op":      c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"remote":  c.ClientIP(),
		}).Info("Served")
	}
}
