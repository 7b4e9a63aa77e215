//go:build !unix && !windows

package mmap

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("mmap: unsupported platform")

func osMap(*os.File, int) ([]byte, func([]byte) error, error) {
	return nil, nil, errUnsupported
}

func osMapAnon(int) ([]byte, func([]byte) error, error) {
	return nil, nil, errUnsupported
}

func osAdvise([]byte, AccessPattern) error {
	return nil
}
