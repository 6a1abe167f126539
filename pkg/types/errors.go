package types

import (
	"fmt"
	"io/fs"
)

// TemplateNotFoundError is returned when a spreadsheet template does not exist.
type TemplateNotFoundError struct {
	Path string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template not found: %s", e.Path)
}

// Unwrap lets errors.Is(err, fs.ErrNotExist) match.
func (e *TemplateNotFoundError) Unwrap() error {
	return fs.ErrNotExist
}

// RenderError is returned when a document could not be produced.
type RenderError struct {
	Document string
	Path     string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render %s (%s): %v", e.Document, e.Path, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
