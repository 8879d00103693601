// Package payload turns the base64 file data of an upload request into the
// bytes, checksum and MIME type that get stored.
package payload

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/models"
)

// DefaultMimeType is used when nothing was declared and sniffing is inconclusive
const DefaultMimeType = "application/octet-stream"

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// Decode decodes fileData and returns the payload to store. A "data:" URL
// prefix is accepted, and its media type is used when declaredMime is empty.
// maxBytes <= 0 disables the size check.
func Decode(fileData, declaredMime string, maxBytes int64) (*models.Payload, error) {
	encoded := strings.TrimSpace(fileData)
	if encoded == "" {
		return nil, &domain.ValidationError{Message: "fileData is required"}
	}

	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, &domain.ValidationError{Message: "fileData is not valid base64"}
		}
		if declaredMime == "" {
			declaredMime, _, _ = strings.Cut(header, ";")
		}
		encoded = body
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes+2 {
		return nil, tooLarge(maxBytes)
	}

	data, err := decodeBase64(encoded)
	if err != nil {
		return nil, &domain.ValidationError{Message: "fileData is not valid base64"}
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, tooLarge(maxBytes)
	}

	mimeType := strings.TrimSpace(declaredMime)
	if mimeType == "" {
		mimeType = DetectMimeType(data)
	}

	return &models.Payload{
		Data:     data,
		Size:     int64(len(data)),
		Checksum: ComputeHash(data),
		MimeType: mimeType,
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func tooLarge(maxBytes int64) error {
	return &domain.ValidationError{Message: fmt.Sprintf("file exceeds the %d byte upload limit", maxBytes)}
}

// DetectMimeType sniffs the content type from the first bytes of data
func DetectMimeType(data []byte) string {
	if len(data) == 0 {
		return DefaultMimeType
	}
	return http.DetectContentType(data)
}

// ComputeHash computes the SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether data matches the expected hash
func VerifyHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
