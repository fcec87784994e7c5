//go:build govips && cgo

package pipeline

import (
	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/source"
)

func Startup() error {
	source.StartupVips()
	return nil
}

func Shutdown() {
	source.ShutdownVips()
}

func NewLocalOpener() LocalFileOpener {
	return LocalFileOpener{open: func(path string) decoder.Source {
		return source.NewVips(path)
	}}
}
