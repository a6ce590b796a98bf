package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alfan-chat/relay/internal/models"
)

// Key identifies an equivalent request for caching. Two requests share a
// reply iff all three fields match.
type Key struct {
	Persona    string
	Text       string
	Attachment string
}

// NewKey normalises the last user text and fingerprints the attachment.
func NewKey(persona, lastUserText string, image *models.Attachment) Key {
	return Key{
		Persona:    persona,
		Text:       strings.ToLower(strings.TrimSpace(lastUserText)),
		Attachment: Fingerprint(image),
	}
}

// Cacheable reports whether the key carries any user text.
func (k Key) Cacheable() bool {
	return k.Text != ""
}

// Hash is a stable digest of the key, used for external stores.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s", k.Persona, k.Text, k.Attachment)))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the sha256 of the decoded image bytes, or "" without
// an image. Undecodable payloads are hashed as given.
func Fingerprint(image *models.Attachment) string {
	if image == nil || image.Data == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(image.Data)
	if err != nil {
		data = []byte(image.Data)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
