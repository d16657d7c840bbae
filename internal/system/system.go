// Package system copies passwords between the operating system keychain and
// keycache keychains. Only macOS has a system keychain; elsewhere every
// operation fails with ErrUnsupported.
package system

import (
	"errors"
	"fmt"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
)

// ErrUnsupported is returned on platforms without a system keychain.
var ErrUnsupported = errors.New("system keychain not supported on this platform")

// Secret is one generic password of the system keychain.
type Secret struct {
	Service string
	Account string
	Label   string
	Data    []byte
}

// Result counts what an import did.
type Result struct {
	Imported int
	Skipped  int
}

// Import copies every generic password of service into kc. Passwords that
// already exist in kc are skipped.
func Import(kc *keychain.Keychain, service string) (Result, error) {
	secrets, err := readService(service)
	if err != nil {
		return Result{}, err
	}
	return importSecrets(kc, secrets)
}

func importSecrets(kc *keychain.Keychain, secrets []Secret) (Result, error) {
	var res Result
	kc.SetBatchMode(true, false)
	defer kc.SetBatchMode(false, false)

	for _, s := range secrets {
		attrs := store.Attributes{
			store.AttrAccount: []byte(s.Account),
			store.AttrService: []byte(s.Service),
		}
		if s.Label != "" {
			attrs[store.AttrLabel] = []byte(s.Label)
		}
		err := kc.Add(keychain.NewItem(store.GenericPassword, attrs, s.Data))
		if errors.Is(err, keychain.ErrDuplicateItem) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("import %s/%s: %w", s.Service, s.Account, err)
		}
		res.Imported++
	}
	return res, nil
}

// Export writes a generic password item of a keychain to the system
// keychain, replacing an existing entry for the same service and account.
func Export(it *keychain.Item) error {
	if it.Type() != store.GenericPassword {
		return fmt.Errorf("%w: only generic passwords can be exported, got %s", keychain.ErrInvalidItemRef, it.Type())
	}
	attrs := it.Attributes()
	return writeSecret(Secret{
		Service: attrs.String(store.AttrService),
		Account: attrs.String(store.AttrAccount),
		Label:   attrs.String(store.AttrLabel),
		Data:    it.Data(),
	})
}
