package transport

import (
	"errors"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
)

// ErrActivation means systemd did not pass exactly one descriptor
var ErrActivation = errors.New("socket activation did not pass exactly one descriptor")

// ActivatedFile returns the connection systemd accepted for this instance.
// The LISTEN_* variables are removed from the environment.
func ActivatedFile() (*os.File, error) {
	files := activation.Files(true)
	if len(files) != 1 {
		for _, f := range files {
			f.Close()
		}
		return nil, fmt.Errorf("%w: got %d", ErrActivation, len(files))
	}
	return files[0], nil
}
