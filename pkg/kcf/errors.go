package kcf

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid KCF magic")
	ErrUnsupportedMajor   = errors.New("unsupported KCF major version")
	ErrUnsupportedVersion = errors.New("unsupported KCF section version")
	ErrCorruptFile        = errors.New("corrupt KCF file")
)
