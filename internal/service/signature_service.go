package service

import (
	"encoding/base64"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"
)

// STKPassword derives the provider password for instant at.
// timestamp is at in East Africa Time as YYYYMMDDHHmmss and
// password is base64(shortCode + passKey + timestamp).
func STKPassword(shortCode, passKey string, at time.Time) (password, timestamp string) {
	timestamp = at.In(domain.EAT).Format(domain.ProviderTimeLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
	return password, timestamp
}

// STKSigner implements ports.RequestSigner for push and query requests.
type STKSigner struct {
	shortCode string
	passKey   string
	clock     clock.Clock
}

var _ ports.RequestSigner = (*STKSigner)(nil)

func NewSTKSigner(shortCode, passKey string, clk clock.Clock) *STKSigner {
	return &STKSigner{shortCode: shortCode, passKey: passKey, clock: clk}
}

// Sign computes the password/timestamp pair for the current instant.
func (s *STKSigner) Sign() ports.SignedFields {
	password, timestamp := STKPassword(s.shortCode, s.passKey, s.clock.Now())
	return ports.SignedFields{
		BusinessShortCode: s.shortCode,
		Password:          password,
		Timestamp:         timestamp,
	}
}
