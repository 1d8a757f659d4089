package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrDuplicateID        = errors.New("auction id already exists")
	ErrVersionConflict    = errors.New("auction version conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// business logic errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidBid   = errors.New("invalid bid")
	ErrNotOwner     = errors.New("only the auction owner can close it")
	ErrConflict     = errors.New("too much contention on auction, retry")
)

// ErrBidRejected wraps every validation failure against auction state.
// The specific reasons below are wrapped together with it.
var (
	ErrBidRejected    = errors.New("bid rejected")
	ErrAuctionClosed  = errors.New("auction is closed")
	ErrAuctionExpired = errors.New("auction has ended")
	ErrBidTooLow      = errors.New("bid amount too low")
	ErrOwnerBid       = errors.New("you cannot bid on your own auction")
)

// RejectionError is returned when a bid fails validation. Detail is the
// human-readable reason surfaced to bidders.
type RejectionError struct {
	Reason error
	Detail string
}

// Reject builds a RejectionError for the given reason sentinel
func Reject(reason error, detail string) *RejectionError {
	return &RejectionError{Reason: reason, Detail: detail}
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Detail
}

// Unwrap exposes both ErrBidRejected and the specific reason to errors.Is
func (e *RejectionError) Unwrap() []error {
	return []error{ErrBidRejected, e.Reason}
}

// InputError carries a caller-facing message for malformed requests.
// Kind is ErrInvalidInput or ErrInvalidBid.
type InputError struct {
	Kind   error
	Detail string
}

// Invalid reports a malformed request
func Invalid(detail string) *InputError {
	return &InputError{Kind: ErrInvalidInput, Detail: detail}
}

// InvalidBid reports a malformed bid
func InvalidBid(detail string) *InputError {
	return &InputError{Kind: ErrInvalidBid, Detail: detail}
}

func (e *InputError) Error() string {
	return e.Kind.Error() + ": " + e.Detail
}

func (e *InputError) Unwrap() error {
	return e.Kind
}
