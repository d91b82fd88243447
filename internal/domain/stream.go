package domain

// StreamEvent is a closed sum over the opponent's paced output.
type StreamEvent interface {
	isStreamEvent()
}

// ReasoningDelta carries a slice of reasoning text. EmittedTokenCount is cumulative.
type ReasoningDelta struct {
	Text              string
	EmittedTokenCount int
	TotalTokenCount   int
}

// ReasoningTruncated reports buffered text dropped before it was sent.
type ReasoningTruncated struct {
	DroppedChars int
}

// FinalAnswer is a terminal event carrying the opponent's answer.
type FinalAnswer struct {
	Answer Answer
}

// StreamError is a terminal event; the opponent did not answer.
type StreamError struct {
	Message string
	Cause   error
}

func (ReasoningDelta) isStreamEvent()     {}
func (ReasoningTruncated) isStreamEvent() {}
func (FinalAnswer) isStreamEvent()        {}
func (StreamError) isStreamEvent()        {}

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case FinalAnswer, StreamError:
		return true
	case ReasoningDelta, ReasoningTruncated:
		return false
	default:
		return false
	}
}

// SequencedEvent is a stream event stamped with its position in the stream.
type SequencedEvent struct {
	Seq   int64
	Event StreamEvent
}
