package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Descriptor tells uploader clients (ShareX and compatibles) how to talk to
// this service.
type Descriptor struct {
	Version         string `json:"Version"`
	Name            string `json:"Name"`
	DestinationType string `json:"DestinationType"`
	RequestMethod   string `json:"RequestMethod"`
	RequestURL      string `json:"RequestURL"`
	Body            string `json:"Body"`
	FileFormName    string `json:"FileFormName"`
	URL             string `json:"URL"`
	DeletionURL     string `json:"DeletionURL"`
	ErrorMessage    string `json:"ErrorMessage"`
}

func NewDescriptor(baseURL string) Descriptor {
	baseURL = strings.TrimRight(baseURL, "/")
	return Descriptor{
		Version:         "15.0.0",
		Name:            "imgdrop",
		DestinationType: "ImageUploader",
		RequestMethod:   http.MethodPost,
		RequestURL:      baseURL + "/upload",
		Body:            "MultipartFormData",
		FileFormName:    formField,
		URL:             baseURL + "/{json:lookupKey}",
		DeletionURL:     baseURL + "/delete/{json:deletionKey}",
		ErrorMessage:    "{json:error}",
	}
}

func (s *Server) describe(c *gin.Context) {
	baseURL := s.opts.publicURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}
		baseURL = scheme + "://" + c.Request.Host
	}
	c.JSON(http.StatusOK, NewDescriptor(baseURL))
}
