package engine

import (
	"errors"
	"strings"

	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/document"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/worker"
)

var (
	// ErrClassificationAmbiguous is logged when no routing rule matched and
	// the turn fell back to chat. It is never returned.
	ErrClassificationAmbiguous = errors.New("engine: classification ambiguous")
	// ErrWorkerInputInvalid fails a run whose input a worker cannot use.
	ErrWorkerInputInvalid = worker.ErrInputInvalid
	// ErrApprovalRejected ends a run the user declined. Not a failure.
	ErrApprovalRejected = worker.ErrApprovalRejected
	// ErrExternalUnavailable fails a run once every fallback is exhausted.
	ErrExternalUnavailable = worker.ErrExternalUnavailable
	// ErrCheckpointCorrupt is returned when a saved run cannot be decoded.
	// The session is flagged for reset and its data is kept.
	ErrCheckpointCorrupt = errors.New("engine: checkpoint corrupt")
	// ErrConcurrentRun is returned when a session already has an active run.
	ErrConcurrentRun = errors.New("engine: a run is already active for this session")
	// ErrNoPendingApproval is returned by Resume when nothing awaits approval.
	ErrNoPendingApproval = broker.ErrNoPendingApproval
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = session.ErrNotFound
	// ErrAccessDenied is returned when a caller does not own a session.
	ErrAccessDenied = errors.New("engine: access denied")
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("engine: invalid state transition")
	// ErrTooLarge is returned for uploads over the size limit.
	ErrTooLarge = document.ErrTooLarge
)

// userMessage turns a run failure into text for the conversation.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrWorkerInputInvalid):
		detail := strings.TrimPrefix(err.Error(), ErrWorkerInputInvalid.Error()+": ")
		return "I couldn't process that request: " + detail + "."
	case errors.Is(err, document.ErrEmpty):
		return "I couldn't find any text in that PDF. Is it a scanned image?"
	case errors.Is(err, document.ErrUnsupported):
		return "Please upload a PDF file."
	case errors.Is(err, ErrExternalUnavailable):
		return "The job search services are unavailable right now. Please try again in a few minutes."
	case errors.Is(err, ErrCheckpointCorrupt):
		return "This conversation's saved state could not be read. It has been flagged for reset."
	case errors.Is(err, session.ErrMaxTurns):
		return "This conversation has reached its turn limit. Please start a new one."
	default:
		return "Something went wrong. Please try again."
	}
}
