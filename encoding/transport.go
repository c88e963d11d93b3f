package encoding

import "encoding/base64"

// TransportCodec turns bytes into a header-safe string and back.
// A codec is selected once and shared; implementations must be stateless.
type TransportCodec interface {
	Encode(data []byte) string
	Decode(s string) ([]byte, error)
}

type base64Codec struct {
	enc *base64.Encoding
}

func (c base64Codec) Encode(data []byte) string {
	return c.enc.EncodeToString(data)
}

func (c base64Codec) Decode(s string) ([]byte, error) {
	return c.enc.DecodeString(s)
}

var (
	// Base64 is standard padded base64, the encoding used by X-PAYMENT.
	Base64 TransportCodec = base64Codec{enc: base64.StdEncoding}

	// Base64URL is unpadded URL-safe base64.
	Base64URL TransportCodec = base64Codec{enc: base64.RawURLEncoding}
)
