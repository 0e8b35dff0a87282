//go:build ORT

package provider

import (
	"os"
	"path/filepath"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
)

// newHugotSession builds an ONNX Runtime session. The shared library is
// resolved from ORT_LIB_DIR, then lib/ next to the binary, then lib/ under
// the working directory; an empty result leaves hugot's platform default.
func newHugotSession() (*hugot.Session, error) {
	var opts []options.WithOption
	if dir := ortLibDir(); dir != "" {
		opts = append(opts, options.WithOnnxLibraryPath(dir))
	}
	return hugot.NewORTSession(opts...)
}

func ortLibDir() string {
	if dir := os.Getenv("ORT_LIB_DIR"); dir != "" {
		return dir
	}
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "lib"))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, "lib"))
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
