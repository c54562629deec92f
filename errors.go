/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/Seednode/cinesort/storage"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// errorf is written regardless of --verbose.
func errorf(format string, args ...any) {
	log.Printf("%s | ERROR: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// drainErrors logs write errors reported by handlers until errs is closed.
func drainErrors(errs <-chan error) {
	for err := range errs {
		errorf("%v", err)
	}
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Field    string           `json:"field,omitempty"`
	Existing *cinesort.Puzzle `json:"existing,omitempty"`
}

// errorStatus maps a domain error to an HTTP status and response body.
func errorStatus(err error) (int, ErrorResponse) {
	var (
		ce *cinesort.ConflictError
		ve *cinesort.ValidationError
		ue *cinesort.UploadError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrorResponse{Error: ve.Message, Field: ve.Field}
	case errors.As(err, &ce):
		return http.StatusConflict, ErrorResponse{Error: ce.Error(), Field: "date", Existing: &ce.Existing}
	case errors.As(err, &ue) && (errors.Is(err, storage.ErrNotImage) || errors.Is(err, storage.ErrImageTooLarge)):
		return http.StatusBadRequest, ErrorResponse{Error: ue.Error(), Field: "images"}
	case errors.As(err, &ue):
		return http.StatusBadGateway, ErrorResponse{Error: ue.Error(), Field: "images"}
	case errors.Is(err, cinesort.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error()}
	case errors.Is(err, cinesort.ErrSessionOver):
		return http.StatusConflict, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
