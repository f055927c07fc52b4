package speech

import (
	"errors"
	"fmt"
)

var (
	ErrInsecureContext  = errors.New("speech recognition requires a secure context")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrMicrophoneBusy   = errors.New("microphone is in use by another voice feature")
)

// codeNotAllowed is the native error code for a denied microphone permission.
const codeNotAllowed = "not-allowed"

// RecognitionError is any other native recognizer failure.
type RecognitionError struct {
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech recognition error %q: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("speech recognition error %q", e.Code)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

func errorFromCode(code string) error {
	if code == codeNotAllowed {
		return ErrPermissionDenied
	}
	return &RecognitionError{Code: code}
}

// Purpose selects the wording of user-facing messages.
type Purpose int

const (
	PurposeCommands Purpose = iota
	PurposeDictation
)

// UserMessage converts a recognition error into the text shown to the farmer.
func UserMessage(p Purpose, err error) string {
	if err == nil {
		return ""
	}
	var recErr *RecognitionError
	switch {
	case errors.Is(err, ErrInsecureContext):
		if p == PurposeDictation {
			return "Speech recognition requires a secure connection (HTTPS)."
		}
		return "Voice commands require a secure connection (HTTPS)."
	case errors.Is(err, ErrPermissionDenied):
		if p == PurposeDictation {
			return "Microphone access denied. Please enable it in your browser settings to use speech-to-text."
		}
		return "Microphone access denied. Please enable it in your browser settings to use voice commands."
	case errors.Is(err, ErrMicrophoneBusy):
		return "The microphone is already in use. Stop the other voice feature and try again."
	case errors.As(err, &recErr):
		if p == PurposeDictation {
			return fmt.Sprintf("Speech recognition error: %s.", recErr.Code)
		}
		return fmt.Sprintf("Voice command error: %s", recErr.Code)
	default:
		return err.Error()
	}
}
