package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PresignUpload hands out a short-lived S3 PUT URL for the training zip.
func (a *App) PresignUpload(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Presigner == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "object storage not configured")
		return
	}
	key := fmt.Sprintf("models/%d_%s.zip", time.Now().UnixMilli(), uuid.NewString()[:8])
	url, err := a.Presigner.PresignUpload(r.Context(), key)
	if err != nil {
		a.Logger.Error().Err(err).Msg("presign failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to presign upload")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"url": url, "key": key})
}
