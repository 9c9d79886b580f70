package domain

import "errors"

var (
	ErrInvalidRoom      = errors.New("invalid room id")
	ErrInvalidMediaKind = errors.New("invalid media kind")
	ErrEmptyMessage     = errors.New("empty message")
	ErrMessageTooLong   = errors.New("message too long")
	ErrConnNotFound     = errors.New("connection not found")
)
