//go:build !linux

package disk

type anonFile struct{ hiddenTemp }

func openAnonymous(dir string) (*anonFile, error) {
	return nil, errTmpfileUnsupported
}
