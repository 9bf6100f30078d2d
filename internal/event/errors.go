package event

import "errors"

var (
	ErrBotUserAgent = errors.New("user agent is a bot")

	ErrInvalidPayload = errors.New("invalid hit payload")

	ErrInvalidPageURL = errors.New("invalid page url")

	ErrUnknownEventKind = errors.New("unknown event kind")

	ErrBodyTooLarge = errors.New("request body too large")

	ErrDuplicateEvent = errors.New("duplicate event")

	ErrEventNotFound = errors.New("event not found")
)
