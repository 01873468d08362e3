package otp

import (
	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Enrollment is a newly generated authenticator-app secret.
type Enrollment struct {
	Secret string
	URL    string
}

// Enroll generates a TOTP secret for account. Persisting it and exposing it
// through a [SecretProvider] is up to the caller.
func Enroll(issuer, account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      30,
		Digits:      potp.DigitsSix,
		Algorithm:   potp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}
