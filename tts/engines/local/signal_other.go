//go:build !unix

package local

import (
	"os"

	"github.com/learntoreadsa/readaloud/tts"
)

// Suspending a process has no portable equivalent outside unix.
func suspend(*os.Process) error { return tts.ErrNotImplemented }

func resume(*os.Process) error { return tts.ErrNotImplemented }
