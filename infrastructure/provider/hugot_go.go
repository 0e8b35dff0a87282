//go:build !ORT

package provider

import "github.com/knights-analytics/hugot"

// newHugotSession builds the pure-Go inference session. The gomlx backend
// needs no shared libraries, at the cost of slower inference than ORT.
func newHugotSession() (*hugot.Session, error) {
	return hugot.NewGoSession()
}
