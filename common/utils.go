package common

import (
	"encoding/json"
	"fmt"
	"log"
)

// Message types published by a run
const (
	MessageTypeUnitOutcome = 1
	MessageTypeRunSummary  = 2
)

// EncodeToByteArray frames a message as [MessageType][JSON payload]
func EncodeToByteArray(messageType byte, payload any) ([]byte, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message type %d: %w", messageType, err)
	}

	data := make([]byte, 0, len(content)+1)
	data = append(data, messageType)
	data = append(data, content...)
	return data, nil
}

// DecodeFromByteArray splits a framed message and decodes its payload into out
func DecodeFromByteArray(data []byte, out any) (byte, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("invalid message: too short")
	}
	if err := json.Unmarshal(data[1:], out); err != nil {
		return data[0], fmt.Errorf("decode message type %d: %w", data[0], err)
	}
	return data[0], nil
}

// InitializeLog sets the log format shared by every component and reports
// whether debug logging is enabled.
func InitializeLog(level string) bool {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("")
	return level == "DEBUG"
}
