package response

import "encoding/json"

// Envelope is the JSON response shape shared by the CommunityCar API:
// {success: bool, message?: string, data?: ...}.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	ErrorID string          `json:"errorId,omitempty"`
}

// Decode parses an API response body.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
