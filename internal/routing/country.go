package routing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/nyaruka/phonenumbers"
)

const (
	// DomesticCountryCode always routes to the domestic gateway.
	DomesticCountryCode = "91"
	// GlobalOnlyCountryCode never uses the gcc gateway, even on the first attempt.
	GlobalOnlyCountryCode = "968"

	unknownRegion = "ZZ"
)

// NormalizeCountryCode strips formatting like "+", "00" and spaces from a calling code.
func NormalizeCountryCode(countryCode string) string {
	cc := strings.TrimSpace(countryCode)
	cc = strings.ReplaceAll(cc, " ", "")
	cc = strings.TrimPrefix(cc, "+")
	if strings.HasPrefix(cc, "00") {
		cc = strings.TrimPrefix(cc, "00")
	}
	return cc
}

// RegionFor returns the ISO region of a calling code, or "ZZ" when unknown.
func RegionFor(countryCode string) string {
	n, err := strconv.Atoi(NormalizeCountryCode(countryCode))
	if err != nil || n <= 0 {
		return unknownRegion
	}
	return phonenumbers.GetRegionCodeForCountryCode(n)
}

// NationalNumber validates mobile as a number of countryCode and returns its
// national significant number, the form the gateways take next to {CountryCode}.
// Trunk prefixes and a matching "+<code>" prefix are accepted.
func NationalNumber(countryCode, mobile string) (string, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return "", fmt.Errorf("%w: recipient has no mobile number", domain.ErrValidation)
	}

	cc := NormalizeCountryCode(countryCode)
	region := RegionFor(cc)
	if region == unknownRegion {
		return "", fmt.Errorf("%w: unknown calling code %q", domain.ErrValidation, countryCode)
	}

	number, err := phonenumbers.Parse(mobile, region)
	if err != nil {
		return "", fmt.Errorf("%w: mobile number %q: %v", domain.ErrValidation, mobile, err)
	}
	if strconv.Itoa(int(number.GetCountryCode())) != cc {
		return "", fmt.Errorf("%w: mobile number %q is not a +%s number", domain.ErrValidation, mobile, cc)
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", fmt.Errorf("%w: mobile number %q is not valid for %s", domain.ErrValidation, mobile, region)
	}
	return phonenumbers.GetNationalSignificantNumber(number), nil
}
