package validation

import "errors"

var (
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFileTooLarge       = errors.New("file size exceeds limit")
	ErrEmptyFile          = errors.New("file is empty")
	ErrMissingFilename    = errors.New("filename is required")
	ErrExtensionMismatch  = errors.New("file extension does not match content")
	ErrNoVariants         = errors.New("at least one output variant is required")
	ErrUnsupportedVariant = errors.New("unsupported output variant")
)
