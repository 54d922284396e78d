package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-addons/pkg/addons"
)

// AddonHandler handles HTTP requests for add-ons
type AddonHandler struct {
	store *addons.Store
}

// NewAddonHandler creates a new add-on handler
func NewAddonHandler(store *addons.Store) *AddonHandler {
	return &AddonHandler{store: store}
}

// Routes returns the public read routes for add-ons
func (h *AddonHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAddons)
	r.Get("/search", h.SearchAddons)
	r.Get("/{id}", h.GetAddon)
	r.Get("/{id}/images", h.ListImages)
	r.Get("/{id}/sources", h.ListSources)
	r.Get("/{id}/revisions/{rev}/file", h.GetRevisionFile)

	return r
}

// WriteRoutes returns the routes that change add-ons
func (h *AddonHandler) WriteRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateAddon)
	r.Patch("/{id}", h.UpdateAddon)
	r.Delete("/{id}", h.DeleteAddon)
	r.Put("/{id}/image", h.SetImage)
	r.Post("/{id}/revisions", h.CreateRevision)
	r.Delete("/{id}/revisions/{rev}", h.DeleteRevision)
	r.Post("/{id}/status", h.SetStatus)
	r.Post("/{id}/notes", h.SetNotes)

	return r
}

// AttributesRequest carries the parsed properties of an uploaded package
type AttributesRequest struct {
	Name            string   `json:"name"`
	Designer        string   `json:"designer"`
	License         string   `json:"license"`
	FileID          int64    `json:"file_id"`
	Format          string   `json:"format"`
	ImageID         int64    `json:"image_id"`
	Flags           []string `json:"flags,omitempty"`
	MissingTextures []string `json:"missing_textures,omitempty"`

	UploadID         string `json:"upload_id"`
	ModeratorMessage string `json:"moderator_message"`
}

// CreateAddonRequest is the request body for creating an add-on
type CreateAddonRequest struct {
	Type string `json:"type"`
	AttributesRequest
}

// UpdateAddonRequest is the request body for editing add-on properties.
// Absent fields are left unchanged.
type UpdateAddonRequest struct {
	Name              *string `json:"name"`
	Designer          *string `json:"designer"`
	Description       *string `json:"description"`
	License           *string `json:"license"`
	MinIncludeVersion *string `json:"min_include_version"`
	MaxIncludeVersion *string `json:"max_include_version"`
}

// SetImageRequest is the request body for changing the image or icon
type SetImageRequest struct {
	ImageID int64 `json:"image_id"`
	Icon    bool  `json:"icon"`
}

// DeleteAddonResponse is the response body of a cascading delete
type DeleteAddonResponse struct {
	AddonID      string   `json:"addon_id"`
	FilesRemoved int      `json:"files_removed"`
	Warnings     []string `json:"warnings,omitempty"`
}

// FilePathResponse is the response body for a revision's content file
type FilePathResponse struct {
	Path string `json:"file_path"`
}

func (req AttributesRequest) attributes() (addons.Attributes, uuid.UUID, error) {
	attrs := addons.Attributes{
		Name:            req.Name,
		Designer:        req.Designer,
		License:         req.License,
		FileID:          req.FileID,
		Format:          req.Format,
		ImageID:         req.ImageID,
		MissingTextures: req.MissingTextures,
	}
	for _, name := range req.Flags {
		flag, ok := addons.FlagByName(name)
		if !ok {
			return attrs, uuid.Nil, &addons.Error{Kind: addons.KindValidation, Op: "parse", Message: "unknown status flag " + strconv.Quote(name)}
		}
		attrs.Status |= flag
	}

	uploadID := uuid.New()
	if req.UploadID != "" {
		id, err := uuid.Parse(req.UploadID)
		if err != nil {
			return attrs, uuid.Nil, &addons.Error{Kind: addons.KindValidation, Op: "parse", Message: "invalid upload id", Err: err}
		}
		uploadID = id
	}
	return attrs, uploadID, nil
}

// loadAddon fetches the add-on named by the {id} URL parameter with its revisions.
func (h *AddonHandler) loadAddon(w http.ResponseWriter, r *http.Request) (*addons.Addon, bool) {
	addon, err := h.store.GetWithRevisions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return addon, true
}

func revisionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	rev, err := strconv.Atoi(chi.URLParam(r, "rev"))
	if err != nil {
		badRequest(w, r, "invalid revision number")
		return 0, false
	}
	return rev, true
}

// ListAddons lists ids of add-ons of a type that have a latest revision
func (h *AddonHandler) ListAddons(w http.ResponseWriter, r *http.Request) {
	featured, _ := strconv.ParseBool(r.URL.Query().Get("featured"))
	ids, err := h.store.List(r.Context(), addons.AddonType(r.URL.Query().Get("type")), featured)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ids)
}

// SearchAddons matches add-on names, and descriptions when asked
func (h *AddonHandler) SearchAddons(w http.ResponseWriter, r *http.Request) {
	description, _ := strconv.ParseBool(r.URL.Query().Get("description"))
	found, err := h.store.Search(r.Context(), r.URL.Query().Get("q"), description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, found)
}

// GetAddon returns an add-on with its revisions
func (h *AddonHandler) GetAddon(w http.ResponseWriter, r *http.Request) {
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, addon)
}

// ListImages lists the image files of an add-on
func (h *AddonHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.store.ImageFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, images)
}

// ListSources lists the source archives of an add-on
func (h *AddonHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.SourceFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, sources)
}

// GetRevisionFile returns the content file path of a revision
func (h *AddonHandler) GetRevisionFile(w http.ResponseWriter, r *http.Request) {
	rev, ok := revisionParam(w, r)
	if !ok {
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	path, err := h.store.GetFilePath(r.Context(), addon, rev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, FilePathResponse{Path: path})
}

// CreateAddon creates an add-on with its first revision, marked latest
func (h *AddonHandler) CreateAddon(w http.ResponseWriter, r *http.Request) {
	var req CreateAddonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	attrs, uploadID, err := req.attributes()
	if err != nil {
		writeError(w, r, err)
		return
	}
	attrs.Status |= addons.StatusLatest

	addon, err := h.store.Create(r.Context(), addons.AddonType(req.Type), attrs, uploadID, req.ModeratorMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Add-on created", "addon_id", addon.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, addon)
}

// CreateRevision appends a revision to an add-on
func (h *AddonHandler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	var req AttributesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	attrs, uploadID, err := req.attributes()
	if err != nil {
		writeError(w, r, err)
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}

	rev, err := h.store.CreateRevision(r.Context(), addon, attrs, uploadID, req.ModeratorMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rev)
}

// UpdateAddon applies the present fields of the request
func (h *AddonHandler) UpdateAddon(w http.ResponseWriter, r *http.Request) {
	var req UpdateAddonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	steps := []struct {
		value *string
		apply func(string) error
	}{
		{req.Name, func(v string) error { return h.store.SetName(ctx, addon, v) }},
		{req.Designer, func(v string) error { return h.store.SetDesigner(ctx, addon, v) }},
		{req.Description, func(v string) error { return h.store.SetDescription(ctx, addon, v) }},
		{req.License, func(v string) error { return h.store.SetLicense(ctx, addon, v) }},
	}
	for _, step := range steps {
		if step.value == nil {
			continue
		}
		if err := step.apply(*step.value); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.MinIncludeVersion != nil || req.MaxIncludeVersion != nil {
		min, max := addon.MinIncludeVersion, addon.MaxIncludeVersion
		if req.MinIncludeVersion != nil {
			min = *req.MinIncludeVersion
		}
		if req.MaxIncludeVersion != nil {
			max = *req.MaxIncludeVersion
		}
		if err := h.store.SetIncludeVersions(ctx, addon, min, max); err != nil {
			writeError(w, r, err)
			return
		}
	}
	render.JSON(w, r, addon)
}

// DeleteAddon removes an add-on with everything attached to it
func (h *AddonHandler) DeleteAddon(w http.ResponseWriter, r *http.Request) {
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	result, err := h.store.Delete(r.Context(), addon)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := DeleteAddonResponse{AddonID: result.AddonID, FilesRemoved: result.FilesRemoved}
	for _, warning := range result.Warnings {
		resp.Warnings = append(resp.Warnings, warning.Message)
	}
	if len(resp.Warnings) > 0 {
		render.Status(r, http.StatusMultiStatus)
	}
	render.JSON(w, r, resp)
}

// SetImage changes the image, or the icon of a kart
func (h *AddonHandler) SetImage(w http.ResponseWriter, r *http.Request) {
	var req SetImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	if err := h.store.SetImage(r.Context(), addon, req.ImageID, req.Icon); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, addon)
}

// DeleteRevision removes a revision that is not the latest
func (h *AddonHandler) DeleteRevision(w http.ResponseWriter, r *http.Request) {
	rev, ok := revisionParam(w, r)
	if !ok {
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteRevision(r.Context(), addon, rev); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// formFields returns the submitted form fields in name order with their first values.
func formFields(w http.ResponseWriter, r *http.Request) ([]string, map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, r, "invalid form body")
		return nil, nil, false
	}
	tokens := make([]string, 0, len(r.PostForm))
	values := make(map[string]string, len(r.PostForm))
	for name := range r.PostForm {
		tokens = append(tokens, name)
		values[name] = r.PostForm.Get(name)
	}
	sort.Strings(tokens)
	return tokens, values, true
}

// SetStatus applies the status form: "<flag>-<rev>=on" fields and "latest=<rev>"
func (h *AddonHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	tokens, values, ok := formFields(w, r)
	if !ok {
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	if err := h.store.SetStatus(r.Context(), addon, addons.StatusUpdateRequest{Tokens: tokens, Values: values}); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, addon.Revisions)
}

// SetNotes stores "notes-<rev>" fields and notifies the uploader
func (h *AddonHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	tokens, values, ok := formFields(w, r)
	if !ok {
		return
	}
	addon, ok := h.loadAddon(w, r)
	if !ok {
		return
	}
	if err := h.store.SetNotes(r.Context(), addon, addons.NotesUpdateRequest{Tokens: tokens, Values: values}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
