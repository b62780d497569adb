// Package store persists all durable per-session state in Redis: status,
// input buffers, turn queues, the global outbound queue and activity
// timestamps. It is the single source of truth for session liveness.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ChatState is the lifecycle status of a session.
type ChatState string

const (
	// StateAccumulatingFirstInput is set while the very first burst of user
	// input is being debounced.
	StateAccumulatingFirstInput ChatState = "accumulating_first_interaction"

	// StateAccumulatingUserInput is set while a follow-on burst is being
	// debounced.
	StateAccumulatingUserInput ChatState = "accumulating_user_input"

	// StateWaitingAgentResponse indicates a coalesced turn has been handed
	// to the generator.
	StateWaitingAgentResponse ChatState = "waiting_agent_response"

	// StateWaitingUserResponse indicates the last outbound message was
	// delivered and the user has the floor.
	StateWaitingUserResponse ChatState = "waiting_user_response"

	// StateConversationEnded is terminal.
	StateConversationEnded ChatState = "conversation_ended"
)

// ErrNotFound is returned when a session's status key does not exist.
// Absence of the key means the session does not exist, not that it is idle.
var ErrNotFound = errors.New("session not found")

// ErrNoData is returned by blocking dequeues when the timeout elapses
// without a payload arriving.
var ErrNoData = errors.New("no data before timeout")

// PayloadError wraps a malformed payload pulled off a queue. Callers log
// it, drop the message and keep their loop running.
type PayloadError struct {
	Raw string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed queue payload %q: %v", e.Raw, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// TurnPayload is one coalesced turn awaiting generator processing.
type TurnPayload struct {
	Msg          string  `json:"msg"`
	Agent        string  `json:"agent"`
	RID          string  `json:"rid"`
	Phone        string  `json:"phone"`
	EmployeeName string  `json:"employee_name"`
	Timestamp    float64 `json:"timestamp"`
}

// NewTurnPayload builds a payload stamped with the current time.
func NewTurnPayload(msg, agent, rid, phone, employeeName string) TurnPayload {
	return TurnPayload{
		Msg:          msg,
		Agent:        agent,
		RID:          rid,
		Phone:        phone,
		EmployeeName: employeeName,
		Timestamp:    float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// OutboundMessage is one message on the global delivery queue.
type OutboundMessage struct {
	Phone   string `json:"phone"`
	Msg     string `json:"msg"`
	ChatKey string `json:"chat_key"`
	Audio   bool   `json:"audio"`
}

// SessionKey derives the namespaced key for a stable session id.
func SessionKey(rid string) string {
	return "chat:" + rid
}
