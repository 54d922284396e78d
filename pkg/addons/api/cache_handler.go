package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-addons/pkg/addons"
)

// CacheHandler handles HTTP requests for the cache registry
type CacheHandler struct {
	cache *addons.CacheRegistry
	perms addons.Permissions
}

// NewCacheHandler creates a new cache handler. Clearing requires the
// edit_addons permission.
func NewCacheHandler(cache *addons.CacheRegistry, perms addons.Permissions) *CacheHandler {
	return &CacheHandler{cache: cache, perms: perms}
}

// Routes returns the public read routes for cache files and images
func (h *CacheHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/files", h.LookupFile)
	r.Get("/images/{fileID}", h.ResolveImage)

	return r
}

// WriteRoutes returns the routes that change the cache
func (h *CacheHandler) WriteRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/files", h.RegisterFile)
	r.Post("/clear", h.Clear)
	r.Delete("/addons/{id}", h.ClearAddon)

	return r
}

// RegisterFileRequest is the request body for registering a cache file
type RegisterFileRequest struct {
	Path    string `json:"file"`
	AddonID string `json:"addon"`
	Props   string `json:"props"`
}

// ClearAddonResponse reports whether an add-on's cache was cleared
type ClearAddonResponse struct {
	Cleared bool `json:"cleared"`
}

func (h *CacheHandler) requireEditor(w http.ResponseWriter, r *http.Request) bool {
	if h.perms.HasPermission(r.Context(), addons.PermEditAddons) {
		return true
	}
	writeError(w, r, &addons.Error{Kind: addons.KindPermission, Op: "cache", Message: "you do not have the necessary permissions to perform this action"})
	return false
}

// LookupFile returns the index entries for ?path=
func (h *CacheHandler) LookupFile(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cache.FileExists(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, entries)
}

// ResolveImage returns the public URL of an image, optionally at ?size=
func (h *CacheHandler) ResolveImage(w http.ResponseWriter, r *http.Request) {
	fileID, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil {
		badRequest(w, r, "invalid file id")
		return
	}
	size := addons.SizeVariant(r.URL.Query().Get("size"))
	switch size {
	case addons.SizeOriginal, addons.SizeBig, addons.SizeMedium, addons.SizeSmall:
	default:
		badRequest(w, r, "invalid image size")
		return
	}

	img, err := h.cache.ResolveImageURL(r.Context(), fileID, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, img)
}

// RegisterFile records a derived file in the cache index. Editors only.
func (h *CacheHandler) RegisterFile(w http.ResponseWriter, r *http.Request) {
	if !h.requireEditor(w, r) {
		return
	}
	var req RegisterFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Path == "" {
		badRequest(w, r, "file is required")
		return
	}
	if err := h.cache.CreateFile(r.Context(), req.Path, req.AddonID, req.Props); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Clear removes every unprotected cache file
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !h.requireEditor(w, r) {
		return
	}
	if err := h.cache.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAddon removes the cache files of one add-on
func (h *CacheHandler) ClearAddon(w http.ResponseWriter, r *http.Request) {
	if !h.requireEditor(w, r) {
		return
	}
	cleared, err := h.cache.ClearAddon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ClearAddonResponse{Cleared: cleared})
}
