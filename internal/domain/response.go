package domain

import "encoding/json"

// Response is the typed answer payload. Each question type accepts exactly
// one variant, so invalid field combinations cannot be constructed.
type Response interface {
	isResponse()
}

// OptionResponse answers MC, IMG and POLL questions.
type OptionResponse struct {
	OptionID string `json:"optionId"`
}

// BoolResponse answers TF questions.
type BoolResponse struct {
	Value bool `json:"value"`
}

// NumberResponse answers NUM questions.
type NumberResponse struct {
	Value float64 `json:"value"`
}

func (OptionResponse) isResponse() {}
func (BoolResponse) isResponse()   {}
func (NumberResponse) isResponse() {}

// responseEnvelope is the wire form of a Response. Exactly one field may be
// set; DecodeResponse rejects everything else.
type responseEnvelope struct {
	OptionID     *string  `json:"optionId,omitempty"`
	BooleanValue *bool    `json:"booleanValue,omitempty"`
	NumericValue *float64 `json:"numericValue,omitempty"`
}

// DecodeResponse parses the wire payload into the single matching variant.
func DecodeResponse(raw []byte) (Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, Errorf(CodeInvalidArgument, "malformed answer payload")
	}
	set := 0
	var resp Response
	if env.OptionID != nil {
		set++
		resp = OptionResponse{OptionID: *env.OptionID}
	}
	if env.BooleanValue != nil {
		set++
		resp = BoolResponse{Value: *env.BooleanValue}
	}
	if env.NumericValue != nil {
		set++
		resp = NumberResponse{Value: *env.NumericValue}
	}
	if set != 1 {
		return nil, Errorf(CodeInvalidArgument, "answer payload must set exactly one of optionId, booleanValue, numericValue")
	}
	return resp, nil
}

// EncodeResponse renders a Response back into its wire form.
func EncodeResponse(resp Response) ([]byte, error) {
	var env responseEnvelope
	switch v := resp.(type) {
	case OptionResponse:
		env.OptionID = &v.OptionID
	case BoolResponse:
		env.BooleanValue = &v.Value
	case NumberResponse:
		env.NumericValue = &v.Value
	}
	return json.Marshal(env)
}
