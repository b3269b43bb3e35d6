package transport

import "encoding/json"

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// fallbackBody is written when an envelope cannot be encoded.
var fallbackBody = []byte(`{"status":"error","code":"INTERNAL","error":"internal error"}`)

// Envelope wraps every JSON response. Error carries only the public message of a
// failure; causes stay in the logs.
type Envelope struct {
	Status Status      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// Ack is the body of operations that only confirm success.
type Ack struct {
	Message string `json:"message"`
}

func Success(data interface{}) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

func Failure(code, message string) Envelope {
	return Envelope{Status: StatusError, Code: code, Error: message}
}

func (e Envelope) WithMeta(meta interface{}) Envelope {
	e.Meta = meta
	return e
}

// Bytes encodes the envelope, substituting a generic INTERNAL body if Data or Meta
// cannot be encoded.
func (e Envelope) Bytes() []byte {
	out, err := json.Marshal(e)
	if err != nil {
		return fallbackBody
	}
	return out
}
