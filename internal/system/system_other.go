//go:build !darwin

package system

func readService(string) ([]Secret, error) {
	return nil, ErrUnsupported
}

func writeSecret(Secret) error {
	return ErrUnsupported
}
