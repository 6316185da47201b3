package relay

import (
	"embed"
	"net/http"
)

//go:embed install.sh
var installScript embed.FS

// serveInstallScript serves the client install script so machines can
// bootstrap with `curl -fsSL https://<relay>/install.sh | sh`.
func serveInstallScript(w http.ResponseWriter, r *http.Request) {
	script, err := installScript.ReadFile("install.sh")
	if err != nil {
		http.Error(w, "Script not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/x-sh; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"install.sh\"")
	w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
	w.Header().Set("X-Content-Type-Options", "nosniff")

	_, _ = w.Write(script)
}
