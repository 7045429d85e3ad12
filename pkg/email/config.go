package email

import "fmt"

// Config holds email service configuration. The Postmark tokens are optional;
// without them the application falls back to the log sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost.localdomain"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost.localdomain"`
}

// PostmarkEnabled reports whether both Postmark tokens are set.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}

// validate checks the fields the Postmark client needs.
func (c Config) validate() error {
	required := []struct{ name, value string }{
		{"PostmarkServerToken", c.PostmarkServerToken},
		{"PostmarkAccountToken", c.PostmarkAccountToken},
		{"SenderEmail", c.SenderEmail},
		{"SupportEmail", c.SupportEmail},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, f.name)
		}
	}
	for _, f := range required[2:] {
		if !emailRegex.MatchString(f.value) {
			return fmt.Errorf("%w: %s must be a valid email address", ErrInvalidConfig, f.name)
		}
	}
	return nil
}
