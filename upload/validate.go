// Package upload validates user-selected audio files and drives the
// file upload flow.
package upload

import (
	"errors"
	"fmt"

	"speakscore/log"
	"speakscore/predict"
)

const (
	MsgInvalidFormat = "Invalid file format. Please upload WAV or MP3."
	MsgTooLarge      = "File size exceeds the 10 MB limit."
	MsgReady         = "Audio file ready for upload!"
	MsgSelectValid   = "Please select a valid audio file."
)

type Reason string

const (
	ReasonFormat  Reason = "format"
	ReasonSize    Reason = "size"
	ReasonMissing Reason = "missing"
)

type ValidationError struct {
	Reason Reason
	Err    error // underlying cause for ReasonMissing
}

func (e *ValidationError) Error() string { return e.Message() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *ValidationError) Message() string {
	switch e.Reason {
	case ReasonFormat:
		return MsgInvalidFormat
	case ReasonSize:
		return MsgTooLarge
	}
	return MsgSelectValid
}

type Limits struct {
	MaxBytes     int64
	AllowedTypes []string
}

func DefaultLimits() Limits {
	return Limits{
		MaxBytes:     10 * 1024 * 1024,
		AllowedTypes: []string{"audio/wav", "audio/mpeg"},
	}
}

// Validate checks format first, then size. The size limit is inclusive.
func Validate(info FileInfo, limits Limits) error {
	allowed := false
	for _, t := range limits.AllowedTypes {
		if info.Is(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{Reason: ReasonFormat}
	}
	if info.Size > limits.MaxBytes {
		return &ValidationError{Reason: ReasonSize}
	}
	return nil
}

// RejectionObserver is told about every rejected selection.
type RejectionObserver interface {
	ValidationRejected(reason string)
}

// Load inspects path, validates it and reads it into a payload. Every
// failure is a *ValidationError.
func Load(in Inspector, path string, limits Limits, obs RejectionObserver) (FileInfo, predict.Payload, error) {
	if path == "" {
		return FileInfo{}, predict.Payload{}, reject(obs, FileInfo{}, &ValidationError{Reason: ReasonMissing})
	}
	info, err := in.Inspect(path)
	if err != nil {
		return FileInfo{}, predict.Payload{}, reject(obs, FileInfo{Path: path}, &ValidationError{Reason: ReasonMissing, Err: err})
	}
	if err := Validate(info, limits); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return info, predict.Payload{}, reject(obs, info, ve)
	}
	data, err := in.ReadFile(path)
	if err != nil {
		return info, predict.Payload{}, reject(obs, info, &ValidationError{Reason: ReasonMissing, Err: fmt.Errorf("reading %s: %w", path, err)})
	}
	return info, predict.Payload{Name: info.Name, ContentType: info.MIMEType, Data: data}, nil
}

func reject(obs RejectionObserver, info FileInfo, ve *ValidationError) error {
	log.ValidationRejected(string(ve.Reason), info.MIMEType, info.Size)
	if obs != nil {
		obs.ValidationRejected(string(ve.Reason))
	}
	return ve
}
