package core

import (
	"errors"
	"fmt"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/store"
)

var (
	ErrNotFound      = errors.New("chat not found")
	ErrUnauthorized  = errors.New("you do not have permission to use this chat")
	ErrNotConfigured = errors.New("not configured")
	// ErrUpstreamFatal aborts a turn before anything is persisted.
	ErrUpstreamFatal = errors.New("something went wrong embedding your message, please try again later")
	ErrGeneration    = errors.New("failed to generate a response")

	ErrUnsupportedInput = ai.ErrUnsupportedInput
	ErrPersistence      = store.ErrPersistence
)

var (
	ErrModelNotSet                  = fmt.Errorf("%w: model for chat has not been set", ErrNotConfigured)
	ErrDocumentLibraryNotConfigured = fmt.Errorf("%w: a document library must be configured to search personal documents", ErrNotConfigured)
	ErrNoUserMessage                = fmt.Errorf("%w: the last message in the chat is not a user message", ErrUnsupportedInput)
	ErrNoAssistantMessage           = fmt.Errorf("%w: the last message in the chat is not an assistant message", ErrUnsupportedInput)
)
