package oauth1flow

import (
	"encoding/json"

	"github.com/authkit/authkit/pkg/ticket"
)

// RequestToken is the transient credential minted by the provider at the
// start of the handshake. It lives only inside a protected cookie between the
// challenge redirect and the callback, together with the properties bag that
// would travel in the state parameter of the newer protocols.
type RequestToken struct {
	Token             string
	TokenSecret       string
	CallbackConfirmed bool
	Properties        *ticket.Properties
}

const requestTokenFormatVersion = 1

type requestTokenWire struct {
	Version           int               `json:"v"`
	Token             string            `json:"t"`
	TokenSecret       string            `json:"s"`
	CallbackConfirmed bool              `json:"c"`
	Properties        map[string]string `json:"p,omitempty"`
}

// RequestTokenSerializer converts request tokens to and from their wire form.
// The payload is always wrapped by an AEAD protector, so the encoding only
// needs to be compact and versioned, not tamper-evident by itself.
type RequestTokenSerializer struct{}

// Serialize encodes the request token.
func (RequestTokenSerializer) Serialize(rt *RequestToken) ([]byte, error) {
	wire := requestTokenWire{
		Version:           requestTokenFormatVersion,
		Token:             rt.Token,
		TokenSecret:       rt.TokenSecret,
		CallbackConfirmed: rt.CallbackConfirmed,
	}
	if rt.Properties != nil {
		wire.Properties = rt.Properties.Items
	}
	return json.Marshal(wire)
}

// Deserialize decodes a request token, reporting false on malformed data or a
// version mismatch.
func (RequestTokenSerializer) Deserialize(data []byte) (*RequestToken, bool) {
	var wire requestTokenWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}
	if wire.Version != requestTokenFormatVersion {
		return nil, false
	}
	props := ticket.NewProperties()
	for k, v := range wire.Properties {
		props.SetString(k, v)
	}
	return &RequestToken{
		Token:             wire.Token,
		TokenSecret:       wire.TokenSecret,
		CallbackConfirmed: wire.CallbackConfirmed,
		Properties:        props,
	}, true
}
