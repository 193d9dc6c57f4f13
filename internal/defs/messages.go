// Package defs contains the wire schemas shared by the session components.
package defs

import "encoding/json"

// MessageType is the type discriminator of a socket message.
type MessageType string

// Socket message types.
const (
	MessageTypePromptRequest     MessageType = "prompt_request"
	MessageTypePromptResponse    MessageType = "prompt_response"
	MessageTypeOptionsRequest    MessageType = "options_request"
	MessageTypeMessageRequest    MessageType = "message_request"
	MessageTypeTestUpdate        MessageType = "test_update"
	MessageTypeFileUploadRequest MessageType = "file_upload_request"
	MessageTypeTimeOut           MessageType = "time_out_notification"
	MessageTypeTestLogRecords    MessageType = "test_log_records"
	MessageTypeInvalidMessage    MessageType = "invalid_message"
	MessageTypeStreamRequest     MessageType = "stream_verification_request"
	MessageTypeImageRequest      MessageType = "image_verification_request"
	MessageTypeTwoWayTalkRequest MessageType = "two_way_talk_verification_request"
	MessageTypePushAVRequest     MessageType = "push_av_stream_verification_request"
)

// SocketMessage is the envelope of every message on the event channel.
// The payload schema depends on Type and is decoded by the receiver.
type SocketMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UserResponseStatus is the status code of a prompt response.
type UserResponseStatus int

// Prompt response status codes.
const (
	ResponseStatusOkay      UserResponseStatus = 0
	ResponseStatusCancelled UserResponseStatus = -1
	ResponseStatusTimeout   UserResponseStatus = -2
	ResponseStatusInvalid   UserResponseStatus = -3
)

// PromptRequest is the part common to every interactive request.
type PromptRequest struct {
	Prompt    string `json:"prompt"`
	Timeout   int    `json:"timeout"`
	MessageID int    `json:"message_id"`
}

// OptionsPromptRequest is a request answered by picking one of a set
// of integer-valued options.
type OptionsPromptRequest struct {
	PromptRequest
	Options map[string]int `json:"options"`
}

// TextPromptRequest is a request answered with a free-form line,
// optionally constrained by a regular expression.
type TextPromptRequest struct {
	PromptRequest
	PlaceholderText *string `json:"placeholder_text"`
	DefaultValue    *string `json:"default_value"`
	RegexPattern    *string `json:"regex_pattern"`
}

// ImagePromptRequest is an options request that additionally carries a
// still image, encoded as comma-separated hex octets.
type ImagePromptRequest struct {
	OptionsPromptRequest
	ImageHexStr string `json:"image_hex_str"`
}

// PromptResponse is the single outbound payload, one per received prompt.
// Response is either an int or a string depending on the prompt kind.
type PromptResponse struct {
	Response   interface{}        `json:"response"`
	StatusCode UserResponseStatus `json:"status_code"`
	MessageID  int                `json:"message_id"`
}

// TimeOutNotification is sent by the server when a prompt expires on its
// side. The client runs its own timers and ignores it.
type TimeOutNotification struct {
	MessageID int `json:"message_id"`
}

// TestLogRecord is one entry of a test_log_records batch.
type TestLogRecord struct {
	Level                string `json:"level"`
	Timestamp            string `json:"timestamp"`
	Message              string `json:"message"`
	TestSuiteExecutionID *int   `json:"test_suite_execution_id"`
	TestCaseExecutionID  *int   `json:"test_case_execution_id"`
}
