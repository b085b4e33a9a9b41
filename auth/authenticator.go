package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"csms/store"

	"github.com/sirupsen/logrus"
)

var (
	// ErrForbidden is returned when the presented credentials are rejected
	ErrForbidden = errors.New("charger authentication failed")
)

type Config struct {
	// Disabled accepts every charger as authenticated
	Disabled bool
	// MasterPassword is shared by chargers of MasterPasswordVendors
	MasterPassword string
	// MasterPasswordVendors are matched case-insensitively as prefix of the vendor or model
	MasterPasswordVendors []string
}

type Authenticator struct {
	creds store.CredentialStore
	conf  Config
	log   *logrus.Entry
}

func NewAuthenticator(creds store.CredentialStore, conf Config, l *logrus.Entry) *Authenticator {
	return &Authenticator{
		creds: creds,
		conf:  conf,
		log:   l.WithField("component", "auth"),
	}
}

// UsesMasterPassword tells whether the charger belongs to a vendor family
// that cannot rotate credentials
func (a *Authenticator) UsesMasterPassword(data *store.ChargerData) bool {
	if data == nil {
		return false
	}

	for _, vendor := range a.conf.MasterPasswordVendors {
		if hasPrefixFold(data.Model, vendor) || hasPrefixFold(data.Vendor, vendor) {
			return true
		}
	}
	return false
}

// Authenticate checks the password presented on upgrade.
// It returns whether the session is authenticated, or ErrForbidden.
// A charger without stored credentials is let in unauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, data *store.ChargerData, password *string) (bool, error) {
	if a.conf.Disabled {
		return true, nil
	}

	ctxLog := a.log.WithField("client", data.ID)

	if a.UsesMasterPassword(data) {
		if password == nil || a.conf.MasterPassword == "" {
			return false, ErrForbidden
		}
		if subtle.ConstantTimeCompare([]byte(*password), []byte(a.conf.MasterPassword)) != 1 {
			return false, ErrForbidden
		}
		return true, nil
	}

	hash, err := a.creds.GetPasswordHash(ctx, data.ID)
	if err != nil {
		return false, err
	}

	if hash == nil {
		if password != nil {
			ctxLog.Warn("charger presented a password but has no stored credentials")
		}
		return false, nil
	}

	if password == nil {
		return false, ErrForbidden
	}

	if !VerifyPassword(*hash, *password) {
		return false, ErrForbidden
	}

	return true, nil
}

func hasPrefixFold(s *string, prefix string) bool {
	if s == nil || prefix == "" {
		return false
	}
	return len(*s) >= len(prefix) && strings.EqualFold((*s)[:len(prefix)], prefix)
}
