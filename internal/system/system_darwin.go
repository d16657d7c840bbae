//go:build darwin

package system

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

func readService(service string) ([]Secret, error) {
	accounts, err := gokeychain.GetGenericPasswordAccounts(service)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("system keychain list %q: %w", service, err)
	}

	secrets := make([]Secret, 0, len(accounts))
	for _, account := range accounts {
		data, err := gokeychain.GetGenericPassword(service, account, "", "")
		if err != nil {
			if errors.Is(err, gokeychain.ErrorItemNotFound) {
				continue
			}
			return nil, fmt.Errorf("system keychain get %s/%s: %w", service, account, err)
		}
		secrets = append(secrets, Secret{Service: service, Account: account, Data: data})
	}
	return secrets, nil
}

func writeSecret(s Secret) error {
	// Update is delete + add.
	err := gokeychain.DeleteGenericPasswordItem(s.Service, s.Account)
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("system keychain delete %s/%s: %w", s.Service, s.Account, err)
	}

	label := s.Label
	if label == "" {
		label = fmt.Sprintf("keycache: %s", s.Account)
	}
	item := gokeychain.NewGenericPassword(s.Service, s.Account, label, s.Data, "")
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)

	if err := gokeychain.AddItem(item); err != nil {
		return fmt.Errorf("system keychain add %s/%s: %w", s.Service, s.Account, err)
	}
	return nil
}
