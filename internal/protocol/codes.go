package protocol

// Version is the protocol generation embedded in connection and REST
// paths. Clients on another generation are refused outright.
const Version = "v0"

// CloseCode is a terminal close status delivered to a channel. All relay
// codes live in one 4000-based namespace so clients can tell a relay
// decision apart from a transport-level close.
type CloseCode int

const (
	codeBase CloseCode = 4000

	// Admission rejections.
	CodeRoomNotFound  CloseCode = codeBase + 0  // no live room under that code
	CodeRoomLocked    CloseCode = codeBase + 1  // owner locked the room
	CodeNameTaken     CloseCode = codeBase + 2  // registration with an existing name
	CodeNameNotFound  CloseCode = codeBase + 3  // reconnection for an unknown name
	CodeTokenMismatch CloseCode = codeBase + 4  // reconnection token does not match
	CodeOwnerMismatch CloseCode = codeBase + 5  // owner secret does not match
	CodeNameEmpty     CloseCode = codeBase + 6  // registration with an empty name
	CodeRoomFull      CloseCode = codeBase + 7  // participant capacity reached

	// Lifecycle signals.
	CodeOverridden  CloseCode = codeBase + 10 // superseded by a newer connection
	CodeVersionGone CloseCode = codeBase + 19 // breaking protocol version change
	CodeRoomClosing CloseCode = codeBase + 20 // room torn down
	CodeBanned      CloseCode = codeBase + 30 // join rate limit exceeded
)

// Relayed reports whether a close code was issued by the relay itself.
// Departure announcements are suppressed for relay-issued closes: the
// owner should not see a "left" event for a connection the relay refused
// or superseded.
func (c CloseCode) Relayed() bool {
	return c >= codeBase
}

// Command is the leading byte of every inbound frame.
type Command byte

const (
	CmdDiscard   Command = 32 // keepalive no-op
	CmdSend      Command = 33 // one addressed message
	CmdSendBatch Command = 34 // ordered sequence of addressed messages
	CmdLock      Command = 35 // owner only: refuse new registrations
	CmdUnlock    Command = 36 // owner only: accept new registrations
	CmdP2POn     Command = 37 // owner only: announce joins to all participants
	CmdP2POff    Command = 38 // owner only: announce joins to the owner alone
)
