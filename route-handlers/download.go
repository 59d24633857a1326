package routehandlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/coreybb/hermes/metrics"
	"github.com/coreybb/hermes/tokenlink"
	"github.com/coreybb/hermes/webutil"
	"github.com/go-chi/chi/v5"
)

// DownloadHandler redeems signed download tokens: redirect for remote
// sources, file stream for local ones. Redemptions are stateless and
// repeatable until the token expires.
type DownloadHandler struct {
	Codec *tokenlink.Codec
}

func NewDownloadHandler(codec *tokenlink.Codec) *DownloadHandler {
	return &DownloadHandler{Codec: codec}
}

// HandleDownload serves GET /download/{token}. Invalid and expired tokens
// get the same external response so the endpoint cannot be used as a
// forgery oracle; logs distinguish them.
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) error {
	token := chi.URLParam(r, "token")

	payload, err := h.Codec.Verify(token)
	if err != nil {
		if errors.Is(err, tokenlink.ErrExpiredToken) {
			metrics.RedemptionsTotal.WithLabelValues("expired").Inc()
			log.Printf("INFO (DownloadHandler): Expired token presented")
		} else {
			metrics.RedemptionsTotal.WithLabelValues("invalid").Inc()
			log.Printf("WARN (DownloadHandler): Invalid token presented")
		}
		return webutil.ErrUnauthorized("Invalid or expired link")
	}

	if payload.URL != "" {
		metrics.RedemptionsTotal.WithLabelValues("redirect").Inc()
		log.Printf("INFO (DownloadHandler): Redirecting %s to %q download", payload.Email, payload.Label)
		http.Redirect(w, r, payload.URL, http.StatusSeeOther)
		return nil
	}

	if payload.Path != "" {
		// Files are not guaranteed stable for the token's full TTL.
		if _, err := os.Stat(payload.Path); err != nil {
			metrics.RedemptionsTotal.WithLabelValues("missing_file").Inc()
			return webutil.ErrNotFoundWrap("File is no longer available", err)
		}

		metrics.RedemptionsTotal.WithLabelValues("file").Inc()
		log.Printf("INFO (DownloadHandler): Streaming %q to %s", payload.Label, payload.Email)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(payload.Path)))
		http.ServeFile(w, r, payload.Path)
		return nil
	}

	metrics.RedemptionsTotal.WithLabelValues("malformed").Inc()
	return webutil.ErrBadRequest("No file configured for this link")
}
