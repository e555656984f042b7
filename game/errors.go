package game

import "errors"

// Session engine errors. Callers wrap them with context and match with errors.Is.
var (
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrIllegalMove        = errors.New("illegal move")
	ErrUnknownMatch       = errors.New("unknown match")
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrMatchLocked        = errors.New("match locked")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPlayerBusy         = errors.New("player already in a live match")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrSettlementRejected = errors.New("settlement rejected")
)

// Wire error codes sent back to the originating connection.
const (
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeIllegalMove       = "ILLEGAL_MOVE"
	CodeUnknownMatch      = "UNKNOWN_MATCH"
	CodeUnknownPlayer     = "UNKNOWN_PLAYER"
	CodeMatchLocked       = "MATCH_LOCKED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodePlayerBusy        = "PLAYER_BUSY"
	CodeMalformedMessage  = "MALFORMED_MESSAGE"
	CodeInternal          = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidParameters, CodeInvalidParameters},
	{ErrIllegalMove, CodeIllegalMove},
	{ErrUnknownMatch, CodeUnknownMatch},
	{ErrUnknownPlayer, CodeUnknownPlayer},
	{ErrMatchLocked, CodeMatchLocked},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrPlayerBusy, CodePlayerBusy},
	{ErrMalformedMessage, CodeMalformedMessage},
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
