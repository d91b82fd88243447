package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a match session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotParticipant is returned when a player acts on a session they do not own.
	ErrNotParticipant = errors.New("player does not own session")
	// ErrSessionCompleted is returned when a finished session is asked for another round.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrQuestionNotFound indicates the question content could not be loaded.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRoundNotFound indicates a submission referenced an unknown round.
	ErrRoundNotFound = errors.New("round not found")
	// ErrRoundInProgress rejects starting a round while another is unresolved.
	ErrRoundInProgress = errors.New("round already in progress")
	// ErrRoundNotInProgress rejects submissions to a resolved round.
	ErrRoundNotInProgress = errors.New("round is not in progress")
	// ErrDeadlinePassed rejects submissions at or after the deadline.
	ErrDeadlinePassed = errors.New("round deadline has passed")
	// ErrDuplicateSubmission rejects a second submission from the same side.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrMalformedAnswer rejects answers that cannot be decoded.
	ErrMalformedAnswer = errors.New("malformed answer")
	// ErrRateLimited is returned when an admission guard rejects a request.
	ErrRateLimited = errors.New("rate limited")
	// ErrTooManySessions is returned when the active session cap for a mode is reached.
	ErrTooManySessions = errors.New("too many active sessions")
	// ErrOpponentNotFound indicates an unknown opponent spec id.
	ErrOpponentNotFound = errors.New("opponent not found")
	// ErrTranscriptNotFound indicates no recorded answer exists for a question and profile.
	ErrTranscriptNotFound = errors.New("transcript not found")
	// ErrNoActiveSession is returned when a reconnecting player has nothing to resume.
	ErrNoActiveSession = errors.New("no active session")
)

// SessionActiveError is returned when a player already owns a live session.
type SessionActiveError struct {
	Binding ActiveSessionBinding
}

func (e *SessionActiveError) Error() string {
	return fmt.Sprintf("player already has active session %s", e.Binding.SessionID)
}
