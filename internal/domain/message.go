package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire operations carried in the "op" field.
const (
	OpQuestion = "question"
	OpStatus   = "status"
	OpAnswer   = "answer"
	OpError    = "error"
)

// HeartbeatPing is the raw text frame sent by the client heartbeat.
const HeartbeatPing = "ping"

// HeartbeatPong is a raw text frame some servers echo back; it is not JSON.
const HeartbeatPong = "pong"

// InsufficientBalanceCode is the server error code for an exhausted quota.
const InsufficientBalanceCode = 4201

// QuestionRequest is the client -> server request envelope.
type QuestionRequest struct {
	Op       string `json:"op"`
	WebID    string `json:"webId"`
	Question string `json:"question"`
	UserID   string `json:"userId,omitempty"`
}

// ServerMessage is the server -> client envelope, discriminated by Op.
// Fields not used by a given op are left zero.
type ServerMessage struct {
	Op        string `json:"op"`
	WebID     string `json:"webId,omitempty"`
	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Index     int    `json:"index"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsDone    bool   `json:"isDone,omitempty"`
	Status    Status `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DecodeServerMessage parses one inbound frame.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Op == "" {
		return ServerMessage{}, fmt.Errorf("decode server message: missing op")
	}
	return msg, nil
}

// ErrorCode returns the numeric code carried by an error message, if any.
func (m ServerMessage) ErrorCode() (int, bool) {
	code, err := strconv.Atoi(m.Message)
	if err != nil {
		return 0, false
	}
	return code, true
}

// StatusResponse is the body returned by the status-poll endpoint.
type StatusResponse struct {
	Code int         `json:"code"`
	Data *StatusData `json:"data"`
	Msg  string      `json:"msg,omitempty"`
}

// StatusData carries the resolved answer, nil while the answer is not ready.
type StatusData struct {
	Answer *string `json:"answer"`
}

// ResolvedAnswer returns the answer when the response carries one.
func (r StatusResponse) ResolvedAnswer() (string, bool) {
	if r.Data == nil || r.Data.Answer == nil {
		return "", false
	}
	return *r.Data.Answer, true
}
