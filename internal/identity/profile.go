package identity

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/internal/resignerr"
	"go.mozilla.org/pkcs7"
)

// Profile is a parsed .mobileprovision: a CMS-wrapped plist carrying the
// entitlements, allowed devices, and developer certificates for a signing
// identity.
type Profile struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                plistutil.Dict         `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	ProvisionedDevices          []string               `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`
}

// ParseProfile unwraps the CMS envelope of a .mobileprovision file and
// decodes its plist payload. The envelope is never verified against
// Apple's trust chain — only Apple's own signing tools do that.
func ParseProfile(data []byte) (*Profile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", fmt.Errorf("parse provisioning profile CMS: %w", err))
	}
	var profile Profile
	if err := plistutil.Decode(p7.Content, &profile); err != nil {
		return nil, resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", fmt.Errorf("parse provisioning profile plist: %w", err))
	}
	return &profile, nil
}

// TeamID prefers the explicit team identifier over the application
// identifier prefix, matching how Apple populates both fields.
func (p *Profile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// ApplicationIdentifier returns the application-identifier entitlement,
// which is "<teamID>.<bundleID>" (or "<teamID>.*" for wildcard profiles).
func (p *Profile) ApplicationIdentifier() string {
	if v, ok := p.Entitlements["application-identifier"].(string); ok {
		return v
	}
	return ""
}

// Expired reports whether the profile's expiration date has passed.
func (p *Profile) Expired() bool {
	return time.Now().After(p.ExpirationDate)
}

// AllowsDevice reports whether a UDID is provisioned by this profile.
// Distribution profiles provision every device.
func (p *Profile) AllowsDevice(udid string) bool {
	if p.ProvisionsAllDevices {
		return true
	}
	for _, d := range p.ProvisionedDevices {
		if d == udid {
			return true
		}
	}
	return false
}

// Certificates parses the profile's embedded developer certificates.
func (p *Profile) Certificates() ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(p.DeveloperCertificates))
	for i, raw := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, fmt.Errorf("parse profile certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// MatchesCertificate reports whether cert is one of the profile's embedded
// developer certificates.
func (p *Profile) MatchesCertificate(cert *x509.Certificate) bool {
	certs, err := p.Certificates()
	if err != nil {
		return false
	}
	for _, c := range certs {
		if cert.Equal(c) {
			return true
		}
	}
	return false
}
