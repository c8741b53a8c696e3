package protocol

// Error codes carried by error messages. Authentication failures additionally
// close the connection with the close codes below.
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeAuthInvalid        = "AUTH_INVALID"
	CodeAuthExpired        = "AUTH_EXPIRED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotDM              = "NOT_DM"
	CodeNotYourTurn        = "NOT_YOUR_TURN"
	CodeGameNotFound       = "GAME_NOT_FOUND"
	CodeGameFull           = "GAME_FULL"
	CodeGameAlreadyStarted = "GAME_ALREADY_STARTED"
	CodeInvalidAction      = "INVALID_ACTION"
	CodeCharacterNotFound  = "CHARACTER_NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// WebSocket close codes for handshake failures.
const (
	CloseAuthTimeout = 4001 // no auth frame before the deadline, or wrong first frame
	CloseAuthFailed  = 4002 // credential rejected
)

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// NewError builds an error reply for the given request seq.
func NewError(code, detail string, reqSeq int64) *Message {
	msg := NewResponse(TypeError, ErrorPayload{Code: code, Message: detail}, reqSeq, false)
	msg.Error = code
	return msg
}
