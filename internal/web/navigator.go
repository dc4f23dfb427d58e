package web

import (
	"net/http"
)

// redirectNavigator turns flow navigation into a single HTTP redirect. A Refresh is
// implied by any redirect because the browser renders the target from scratch.
type redirectNavigator struct {
	location string
	refresh  bool
}

func (n *redirectNavigator) Push(url string) {
	n.location = url
}

func (n *redirectNavigator) Refresh() {
	n.refresh = true
}

// redirect writes the pending navigation, if any, and reports whether it did.
func (n *redirectNavigator) redirect(w http.ResponseWriter, r *http.Request, status int) bool {
	if n.location == "" {
		return false
	}
	if n.refresh && w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	http.Redirect(w, r, n.location, status)
	return true
}
