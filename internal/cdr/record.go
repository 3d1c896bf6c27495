// Package cdr implements the Call Detail Record model and its persistence
// pipeline: a CallRecord is built once per terminated call and
// handed to a CallRecordManager that ships it to local disk, an S3-compatible
// object store, or an HTTP endpoint.
package cdr

import (
	"time"

	"github.com/restsend/active-call/internal/event"
)

// CallType mirrors the ActiveCallType the record's call ran as.
type CallType string

const (
	TypeWebSocket CallType = "websocket"
	TypeWebRTC    CallType = "webrtc"
	TypeSIP       CallType = "sip"
)

// Media describes one recorded track artifact.
type Media struct {
	TrackID string         `json:"trackId"`
	Path    string         `json:"path"`
	Size    int64          `json:"size"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// HangupMessage is one entry of a call's hangup audit trail: a status code
// and optional reason/target observed from a local or remote actor over the
// call's lifetime.
type HangupMessage struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	Target string `json:"target,omitempty"`
}

// Record is the CallRecord emitted exactly once per terminated call. Fields
// line up with CallState/CallOption so ActiveCall can build one directly at
// hangup.
type Record struct {
	CallType       CallType           `json:"callType"`
	Option         *event.CallOption  `json:"option,omitempty"`
	CallID         string             `json:"callId"`
	StartTime      time.Time          `json:"startTime"`
	RingTime       *time.Time         `json:"ringTime,omitempty"`
	AnswerTime     *time.Time         `json:"answerTime,omitempty"`
	EndTime        time.Time          `json:"endTime"`
	Caller         string             `json:"caller"`
	Callee         string             `json:"callee"`
	StatusCode     int                `json:"statusCode"`
	HangupReason   *event.HangupReason `json:"hangupReason,omitempty"`
	HangupMessages []HangupMessage    `json:"hangupMessages,omitempty"`
	Recorder       []Media            `json:"recorder,omitempty"`
	Extras         map[string]any     `json:"extras,omitempty"`
	DumpEventFile  string             `json:"dumpEventFile,omitempty"`
	ReferCallRecord *Record           `json:"referCallrecord,omitempty"`
}

// Sender is the narrow contract ActiveCall uses to hand a finished Record to
// the CDR pipeline without depending on the manager or its backends.
type Sender interface {
	Send(r *Record)
}

// EventRecordType discriminates one line of a call's JSONL event dump.
type EventRecordType string

const (
	EventRecordEvent   EventRecordType = "event"
	EventRecordCommand EventRecordType = "command"
	EventRecordSIP     EventRecordType = "sip"
)

// EventRecord is one line of the optional per-call JSONL event dump, stored
// at "{root}/{date}/{call_id}.jsonl".
type EventRecord struct {
	Type      EventRecordType `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Content   string          `json:"content"`
}
