// Package tlsinfo inspects the certificate a live domain currently
// serves. It is report-only: certificate issuance and renewal belong to
// the proxy, this service only surfaces expiry and validity problems.
package tlsinfo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/geozo-tech/go-curl"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
)

const expireDateFormat = "Jan 2 15:04:05 2006 MST"

const expireDateLabel = "Expire date"

var (
	errMissingExpireDate = errors.New("expire date is not found in cert info")
	errNoCertInfo        = errors.New("no cert info")

	// Issuer lines of certificates we do not consider customer-valid:
	// ISRG roots presented directly, or short-lived default issuers.
	selfSignedPattern = regexp.MustCompile(`(CN = ISRG Root)|(R\d)`)
)

// Inspect connects to ip:443 presenting domain via SNI and returns the
// served certificate's health.
func Inspect(ip, domain string) (entities.CertInfo, error) {
	easy := curl.EasyInit()
	defer easy.Cleanup()

	options := []struct {
		opt   int
		value interface{}
	}{
		{curl.OPT_URL, "https://" + domain},
		{curl.OPT_CONNECT_TO, []string{fmt.Sprintf("%s:443:%s:443", domain, ip)}},
		{curl.OPT_SSL_VERIFYPEER, true},
		{curl.OPT_SSL_VERIFYHOST, true},
		{curl.OPT_TIMEOUT, 5},
		{curl.OPT_CERTINFO, true},
		{curl.OPT_NOPROGRESS, true},
		{curl.OPT_NOBODY, true},
	}
	for _, option := range options {
		if err := easy.Setopt(option.opt, option.value); err != nil {
			return entities.CertInfo{}, fmt.Errorf("failed to set curl option %d: %w", option.opt, err)
		}
	}

	if err := easy.Perform(); err != nil {
		return entities.CertInfo{}, fmt.Errorf("failed to connect: %w", err)
	}

	info, err := easy.Getinfo(curl.INFO_CERTINFO)
	if err != nil {
		return entities.CertInfo{}, fmt.Errorf("failed to get cert info: %w", err)
	}

	certs, ok := info.([]string)
	if !ok {
		return entities.CertInfo{}, errors.New("unsupported certificate info format") //nolint:goerr113
	}
	return parseCertInfo(certs)
}

// parseCertInfo extracts expiry and validity from curl CERTINFO lines.
func parseCertInfo(certs []string) (entities.CertInfo, error) {
	labelLen := len(expireDateLabel) + 1
	for _, cert := range certs {
		idx := strings.Index(cert, expireDateLabel)
		if idx == -1 {
			return entities.CertInfo{}, errMissingExpireDate
		}

		line := strings.Split(cert[idx+labelLen:], "\n")[0]
		expiredAt, err := time.Parse(expireDateFormat, line)
		if err != nil {
			return entities.CertInfo{}, fmt.Errorf("failed to parse expire date: %w", err)
		}

		subject := strings.Split(cert, "\n")[0]
		if expiredAt.Before(time.Now()) || selfSignedPattern.MatchString(subject) {
			return entities.CertInfo{ExpiredAt: &expiredAt, Valid: false}, nil
		}
		return entities.CertInfo{ExpiredAt: &expiredAt, Valid: true}, nil
	}

	return entities.CertInfo{}, errNoCertInfo
}
