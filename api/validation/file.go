package validation

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"mediaPipeline/api/apperrors"
)

type FileType string

const (
	FileTypeMP4  FileType = "mp4"
	FileTypeMOV  FileType = "mov"
	FileTypeWebM FileType = "webm"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

var extensions = map[string]FileType{
	".mp4":  FileTypeMP4,
	".m4v":  FileTypeMP4,
	".mov":  FileTypeMOV,
	".webm": FileTypeWebM,
}

// DetectFileType sniffs the container from the first bytes and rewinds the reader.
func DetectFileType(file io.ReadSeeker) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	head := buffer[:n]
	switch {
	case bytes.HasPrefix(head, ebmlMagic):
		return FileTypeWebM, nil
	case len(head) >= 12 && string(head[4:8]) == "ftyp":
		if string(head[8:12]) == "qt  " {
			return FileTypeMOV, nil
		}
		return FileTypeMP4, nil
	}

	return "", ErrInvalidFileType
}

func FileTypeFromName(filename string) (FileType, bool) {
	ft, ok := extensions[strings.ToLower(filepath.Ext(filename))]
	return ft, ok
}

func IsAllowedExtension(filename string) bool {
	_, ok := FileTypeFromName(filename)
	return ok
}

// MatchesExtension treats mp4 and mov as interchangeable since both are ISO-BMFF.
func MatchesExtension(filename string, detected FileType) bool {
	declared, ok := FileTypeFromName(filename)
	if !ok {
		return false
	}
	if declared == detected {
		return true
	}
	isoBMFF := func(ft FileType) bool { return ft == FileTypeMP4 || ft == FileTypeMOV }
	return isoBMFF(declared) && isoBMFF(detected)
}

func CheckSize(size, max int64) error {
	if size <= 0 {
		return apperrors.Validation("check_size", ErrEmptyFile)
	}
	if size > max {
		return apperrors.Validation("check_size",
			fmt.Errorf("%w: %d bytes > %d bytes", ErrFileTooLarge, size, max))
	}
	return nil
}
