package gateway

import "encoding/base64"

// decodeBase64Frame turns a base64 screencast frame into raw JPEG bytes.
// Frames that are already binary pass through unchanged.
func decodeBase64Frame(frame []byte) ([]byte, error) {
	if len(frame) > 2 && frame[0] == 0xFF && frame[1] == 0xD8 {
		return frame, nil
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(decoded, frame)
	if err != nil {
		return nil, err
	}
	return decoded[:n], nil
}
