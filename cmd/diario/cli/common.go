package cli

import (
	"io"
	"os"
	"strings"
)

func lookupEnv(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// interactive reports whether w is a terminal and --ci is off.
func interactive(w io.Writer) bool {
	if ciMode {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
