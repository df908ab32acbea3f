package services

import "errors"

var (
	ErrForbidden     = errors.New("forbidden")
	ErrNotMember     = errors.New("not a member of this room")
	ErrRoomName      = errors.New("room name must be 1-100 characters")
	ErrSelfChat      = errors.New("cannot open a conversation with yourself")
	ErrUnknownTarget = errors.New("unknown conversation or room")
)
