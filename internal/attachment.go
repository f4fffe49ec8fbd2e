package internal

import (
	"errors"
	"mime"
	"strings"
)

// DefaultMaxAttachmentSize caps the raw bytes of a single attachment (5 MiB).
const DefaultMaxAttachmentSize int64 = 5 * 1024 * 1024

// MaxAttachmentCeiling bounds any configured cap. The websocket read limit is
// derived from the cap, so it must stay well below available memory.
const MaxAttachmentCeiling int64 = 64 * 1024 * 1024

var (
	// ErrSizeLimitExceeded rejects attachments larger than the configured cap.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrUnsupportedType rejects attachments whose declared type is not allowed.
	ErrUnsupportedType = errors.New("unsupported type")
)

// DefaultAllowedTypes covers common image, document, audio, video, archive and
// plain-text formats.
var DefaultAllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/svg+xml",
	"application/pdf",
	"application/rtf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"audio/mpeg",
	"audio/wav",
	"audio/ogg",
	"audio/webm",
	"audio/aac",
	"video/mp4",
	"video/webm",
	"video/ogg",
	"video/quicktime",
	"application/zip",
	"application/x-zip-compressed",
	"application/x-tar",
	"application/gzip",
	"application/x-7z-compressed",
	"application/vnd.rar",
	"text/plain",
	"text/csv",
	"text/markdown",
}

// Attachment is a file carried inside a chat message. Data travels as base64
// in JSON frames.
type Attachment struct {
	Name string `json:"name,omitempty"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// AttachmentValidator checks an attachment before it may become part of a
// message. The declared type is trusted as sent; no content sniffing is done.
type AttachmentValidator struct {
	maxSize int64
	allowed map[string]struct{}
}

// NewAttachmentValidator builds a validator. A non-positive maxSize falls back
// to DefaultMaxAttachmentSize, anything above MaxAttachmentCeiling is clamped
// and an empty allow-list falls back to DefaultAllowedTypes.
func NewAttachmentValidator(maxSize int64, allowedTypes []string) *AttachmentValidator {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	if maxSize > MaxAttachmentCeiling {
		maxSize = MaxAttachmentCeiling
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, declared := range allowedTypes {
		if mediaType := normalizeMediaType(declared); mediaType != "" {
			allowed[mediaType] = struct{}{}
		}
	}
	return &AttachmentValidator{maxSize: maxSize, allowed: allowed}
}

func (validator *AttachmentValidator) MaxSize() int64 {
	return validator.maxSize
}

// Validate returns nil for an acceptable attachment, otherwise
// ErrSizeLimitExceeded or ErrUnsupportedType. The size rule is checked first.
func (validator *AttachmentValidator) Validate(attachment *Attachment) error {
	if attachment == nil {
		return nil
	}
	if int64(len(attachment.Data)) > validator.maxSize {
		return ErrSizeLimitExceeded
	}
	if _, ok := validator.allowed[normalizeMediaType(attachment.Type)]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// normalizeMediaType lower-cases the declared type and strips parameters such
// as "; charset=utf-8".
func normalizeMediaType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		return mediaType
	}
	return strings.ToLower(declared)
}
