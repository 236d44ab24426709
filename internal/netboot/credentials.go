// Package netboot brings the controller onto the network at boot: station
// association with access-point fallback, clock sync and service
// advertisement.
package netboot

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/document"
	"github.com/agsys/relay-controller/internal/fault"
)

// Credentials identify the station network to join
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// CredentialStore persists station credentials
type CredentialStore struct {
	doc      document.Document
	fallback Credentials

	mu sync.Mutex
}

// NewCredentialStore creates a store that answers fallback while the document
// is missing or unreadable.
func NewCredentialStore(doc document.Document, fallback Credentials) *CredentialStore {
	return &CredentialStore{doc: doc, fallback: fallback}
}

// Load returns the stored credentials
func (s *CredentialStore) Load() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Credentials
	if err := document.ReadJSON(s.doc, &c); err != nil {
		if !document.IsMissing(err) {
			log.WithError(err).Warn("Credential document unreadable, using configured network")
		}
		return s.fallback
	}
	if c.SSID == "" {
		return s.fallback
	}
	return c
}

// SaveCredentials stores credentials for the next boot
func (s *CredentialStore) SaveCredentials(ssid, password string) error {
	if ssid == "" {
		return fault.Invalid("ssid", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return document.WriteJSON(s.doc, Credentials{SSID: ssid, Password: password})
}
