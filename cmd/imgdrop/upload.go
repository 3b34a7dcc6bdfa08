package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nicolagi/imgdrop/client"
	"github.com/spf13/cobra"
)

func newUploadCommand(load configLoader) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload an image and print its URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			if server == "" {
				server = serverURL(c)
			}
			return upload(cmd, client.New(server), server, args[0])
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "base URL of the server (default from configuration)")
	return cmd
}

func newDeleteCommand(load configLoader) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "delete DELETION_KEY",
		Short: "Delete an uploaded image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			if server == "" {
				server = serverURL(c)
			}
			if err := client.New(server).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "base URL of the server (default from configuration)")
	return cmd
}

func upload(cmd *cobra.Command, cli *client.Client, server, pathname string) error {
	f, err := os.Open(pathname)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	// Sniff the type from the content rather than trusting the extension.
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	keys, err := cli.Upload(cmd.Context(), filepath.Base(pathname), contentType, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		return err
	}
	server = strings.TrimRight(server, "/")
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "url\t%s/%s\n", server, keys.LookupKey)
	_, err = fmt.Fprintf(out, "delete\t%s/delete/%s\n", server, keys.DeletionKey)
	return err
}

func serverURL(c *config) string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	if strings.HasPrefix(c.Listen, ":") {
		return "http://localhost" + c.Listen
	}
	return "http://" + c.Listen
}
