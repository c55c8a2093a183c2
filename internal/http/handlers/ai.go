package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pictora/internal/domain"
	"pictora/internal/service"
)

type trainingRequest struct {
	ZipURL string `json:"zipUrl"`
	Name   string `json:"name"`
}

type generateRequest struct {
	ModelID string `json:"modelId"`
	Prompt  string `json:"prompt"`
}

type packGenerateRequest struct {
	PackID  string `json:"packId"`
	ModelID string `json:"modelId"`
}

type jobDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Name      string `json:"name,omitempty"`
	ModelID   string `json:"modelId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	OutputRef string `json:"outputUrl,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func toJobDTO(j *domain.Job) jobDTO {
	dto := jobDTO{
		ID:        j.ID,
		Kind:      string(j.Kind),
		Status:    string(j.Status),
		Name:      j.Name,
		ModelID:   j.ModelID,
		OutputRef: j.OutputRef,
		Thumbnail: j.Thumbnail,
	}
	if j.Kind == domain.JobKindImageGeneration {
		dto.Prompt = j.InputRef
	}
	return dto
}

func (a *App) TrainModel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Gateway.SubmitTraining(r.Context(), userID, service.TrainingInput{ZipURL: req.ZipURL, Name: req.Name})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"modelId": job.ID, "status": job.Status})
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Gateway.GenerateImage(r.Context(), userID, service.GenerateInput{ModelID: req.ModelID, Prompt: req.Prompt})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"imageId": job.ID, "status": job.Status})
}

func (a *App) GenerateFromPack(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req packGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	batch, err := a.Gateway.GenerateFromPack(r.Context(), userID, service.PackInput{PackID: req.PackID, ModelID: req.ModelID})
	if err != nil {
		a.fail(w, err)
		return
	}
	ids := make([]string, 0, len(batch))
	for _, job := range batch {
		ids = append(ids, job.ID)
	}
	a.json(w, http.StatusCreated, map[string]any{"imageIds": ids, "count": len(ids)})
}

func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, offset := listParams(r)
	models, err := a.Jobs.ListByKind(r.Context(), userID, domain.JobKindTraining, limit, offset)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]jobDTO, 0, len(models))
	for i := range models {
		items = append(items, toJobDTO(&models[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"models": items})
}

func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var images []domain.Job
	var err error
	if ids := idsParam(r); len(ids) > 0 {
		images, err = a.Jobs.ListByIDs(r.Context(), userID, ids)
	} else {
		limit, offset := listParams(r)
		images, err = a.Jobs.ListByKind(r.Context(), userID, domain.JobKindImageGeneration, limit, offset)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]jobDTO, 0, len(images))
	for i := range images {
		items = append(items, toJobDTO(&images[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"images": items})
}

func (a *App) ListPacks(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	packs, err := a.Packs.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"packs": packs})
}

func (a *App) ModelStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	modelID := chi.URLParam(r, "modelId")
	if modelID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "modelId required")
		return
	}
	job, err := a.Jobs.GetForUser(r.Context(), modelID, userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"model": toJobDTO(job)})
}

// idsParam parses the comma-separated ids query parameter.
func idsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func listParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
