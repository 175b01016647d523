package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// BlocklistServiceInterface defines the admin block management contract
type BlocklistServiceInterface interface {
	ListBlocked(ctx context.Context) (*models.BlockedIPsResponse, error)
	Unblock(ctx context.Context, ip, adminID string) error
}

// AdminHandler handles admin block management requests
type AdminHandler struct {
	service BlocklistServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service BlocklistServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListBlockedIPs handles GET /admin/blocked-ips
func (h *AdminHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListBlocked(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve blocked IP addresses")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// UnblockIP handles POST /admin/unblock-ip/{ip}
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := pkghttp.CanonicalIP(strings.TrimSpace(chi.URLParam(r, "ip")))
	if ip == "" {
		pkghttp.WriteBadRequest(w, "IP address is required")
		return
	}

	adminID := ""
	if user := auth.GetUserFromContext(r); user != nil {
		adminID = user.ID
	}

	if err := h.service.Unblock(r.Context(), ip, adminID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, fmt.Sprintf("IP address %s is not blocked", ip))
			return
		}
		pkghttp.WriteInternalError(w, "Failed to unblock IP address")
		return
	}

	pkghttp.WriteMessage(w, http.StatusOK, fmt.Sprintf("IP address %s has been unblocked", ip))
}
