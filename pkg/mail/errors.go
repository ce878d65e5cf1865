package mail

import (
	"errors"
	"fmt"

	"github.com/telekom/mailcompose/pkg/config"
)

var (
	// ErrInvalidConfig matches every *ConfigurationError.
	ErrInvalidConfig      = config.ErrInvalidConfig
	ErrInvalidAddress     = errors.New("invalid email address")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrTemplateNotFound   = errors.New("email template not found")
	ErrTemplateCompile    = errors.New("email template failed")
	ErrTransport          = errors.New("mail transport failed")
)

// ConfigurationError is returned by New and SelectTransport when a field
// required by the selected mail type is missing or invalid.
type ConfigurationError = config.ConfigurationError

// AddressFormatError is returned by the address setters for a malformed address.
type AddressFormatError struct {
	Header  string
	Address string
	Err     error
}

func (e *AddressFormatError) Error() string {
	return fmt.Sprintf("invalid %s address %q: %v", e.Header, e.Address, e.Err)
}

func (e *AddressFormatError) Unwrap() error { return e.Err }

func (e *AddressFormatError) Is(target error) bool { return target == ErrInvalidAddress }

// AttachmentNotFoundError is returned by Attach when the file cannot be read.
type AttachmentNotFoundError struct {
	Path string
	Err  error
}

func (e *AttachmentNotFoundError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentNotFoundError) Unwrap() error { return e.Err }

func (e *AttachmentNotFoundError) Is(target error) bool { return target == ErrAttachmentNotFound }

// TemplateNotFoundError is returned when the resolved template file does not exist.
type TemplateNotFoundError struct {
	Path string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("email template %s not found", e.Path)
}

func (e *TemplateNotFoundError) Is(target error) bool { return target == ErrTemplateNotFound }

// TemplateCompileError is returned when a template cannot be read, parsed or executed.
type TemplateCompileError struct {
	Path string
	// Op is "read", "parse" or "execute".
	Op  string
	Err error
}

func (e *TemplateCompileError) Error() string {
	return fmt.Sprintf("email template %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *TemplateCompileError) Unwrap() error { return e.Err }

func (e *TemplateCompileError) Is(target error) bool { return target == ErrTemplateCompile }

// TransportError is returned by Send when the transport could not deliver.
type TransportError struct {
	Transport TransportKind
	// Op is the failing step: "dial", "starttls", "auth", "start", "send"
	// or "close".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
