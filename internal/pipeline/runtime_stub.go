//go:build !govips || !cgo

package pipeline

import (
	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/source"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func NewLocalOpener() LocalFileOpener {
	return LocalFileOpener{open: func(path string) decoder.Source {
		return source.NewFile(path)
	}}
}
