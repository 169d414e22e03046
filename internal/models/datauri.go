package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeDataURI кодирует изображение в data URI (base64).
func EncodeDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI разбирает data URI вида data:<mime>;base64,<payload>.
func DecodeDataURI(uri string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, fmt.Errorf("%w: not a data uri", ErrInvalidInput)
	}
	header, payload, found := strings.Cut(uri[len("data:"):], ",")
	if !found {
		return "", nil, fmt.Errorf("%w: data uri without payload", ErrInvalidInput)
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 data uris are supported", ErrInvalidInput)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad base64 payload: %v", ErrInvalidInput, err)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return mimeType, data, nil
}
