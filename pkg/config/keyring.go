package config

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// ResolveSecrets reads SMTPPass from the OS keyring when it is empty and a
// keyring service is configured. The keyring account is SMTPUser.
func (m *Mail) ResolveSecrets() error {
	if m.SMTPPass != "" || m.SMTPPassKeyring == "" {
		return nil
	}
	pass, err := keyring.Get(m.SMTPPassKeyring, m.SMTPUser)
	if err != nil {
		return fmt.Errorf("reading smtp password for %q from keyring %q: %w", m.SMTPUser, m.SMTPPassKeyring, err)
	}
	m.SMTPPass = pass
	return nil
}
