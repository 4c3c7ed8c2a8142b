// Package api exposes versioned records and their history over JSON HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/export"
	"github.com/rpattn/versioned/internal/historyloader"
	"github.com/rpattn/versioned/internal/middleware"
	"github.com/rpattn/versioned/internal/versioning"
)

type Handler struct {
	registry *versioning.Registry
	mux      *http.ServeMux
}

func NewHandler(registry *versioning.Registry) *Handler {
	h := &Handler{registry: registry, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /entities", h.handleListEntities)
	h.mux.HandleFunc("POST /entities/{entity}/records", h.handleCreate)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}", h.handleGet)
	h.mux.HandleFunc("PATCH /entities/{entity}/records/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /entities/{entity}/records/{id}", h.handleDelete)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions", h.handleListVersions)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions/earliest", h.handleEarliest)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions/latest", h.handleLatest)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions/{sequence}", h.handleGetVersion)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions/{sequence}/previous", h.handlePrevious)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/versions/{sequence}/next", h.handleNext)
	h.mux.HandleFunc("POST /entities/{entity}/records/{id}/revert", h.handleRevert)
	h.mux.HandleFunc("GET /entities/{entity}/records/{id}/export", h.handleExport)
	h.mux.HandleFunc("POST /entities/{entity}/latest", h.handleBatchLatest)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type fieldResponse struct {
	Name string           `json:"name"`
	Type domain.FieldType `json:"type"`
}

type entityResponse struct {
	Name        string          `json:"name"`
	Fields      []fieldResponse `json:"fields"`
	WatchFields []string        `json:"watchFields,omitempty"`
	Limit       int64           `json:"limit"`
	Dependent   string          `json:"dependent"`
}

type recordResponse struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type,omitempty"`
	Version     int64          `json:"version"`
	LockVersion int64          `json:"lockVersion"`
	Fields      map[string]any `json:"fields"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type versionResponse struct {
	ID          uuid.UUID      `json:"id"`
	EntityID    *uuid.UUID     `json:"entityId,omitempty"`
	Sequence    int64          `json:"sequence"`
	VersionType string         `json:"versionType,omitempty"`
	Fields      map[string]any `json:"fields"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type saveResponse struct {
	Record     recordResponse   `json:"record"`
	State      string           `json:"state"`
	Written    bool             `json:"written"`
	Version    *versionResponse `json:"version,omitempty"`
	Pruned     int64            `json:"pruned"`
	PruneError string           `json:"pruneError,omitempty"`
}

type revertResponse struct {
	Reverted bool           `json:"reverted"`
	Record   recordResponse `json:"record"`
}

type writePayload struct {
	Type            *string        `json:"type"`
	Fields          map[string]any `json:"fields"`
	LockVersion     *int64         `json:"lockVersion"`
	WithoutRevision bool           `json:"withoutRevision"`
	WithoutLocking  bool           `json:"withoutLocking"`
}

type revertPayload struct {
	Sequence    *int64  `json:"sequence"`
	VersionID   *string `json:"versionId"`
	LockVersion *int64  `json:"lockVersion"`
}

type batchLatestPayload struct {
	IDs []string `json:"ids"`
}

func toRecordResponse(rec domain.Record) recordResponse {
	return recordResponse{
		ID:          rec.ID,
		Type:        rec.Type,
		Version:     rec.Version,
		LockVersion: rec.LockVersion,
		Fields:      rec.Fields,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func toVersionResponse(v domain.Version) versionResponse {
	resp := versionResponse{
		ID:          v.ID,
		Sequence:    v.Sequence,
		VersionType: v.VersionType,
		Fields:      v.Fields,
		CreatedAt:   v.CreatedAt,
	}
	if !v.IsDetached() {
		id := v.EntityID
		resp.EntityID = &id
	}
	return resp
}

func toSaveResponse(rec domain.Record, out versioning.Outcome) saveResponse {
	resp := saveResponse{
		Record:  toRecordResponse(rec),
		State:   out.State.String(),
		Written: out.Written,
		Pruned:  out.Pruned,
	}
	if out.State == versioning.StateCaptured {
		v := toVersionResponse(out.Version)
		resp.Version = &v
	}
	if out.PruneErr != nil {
		resp.PruneError = out.PruneErr.Error()
	}
	return resp
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	entities := make([]entityResponse, 0, len(names))
	for _, name := range names {
		engine, _ := h.registry.Get(name)
		cfg := engine.Config()
		fields := make([]fieldResponse, len(cfg.Mapping.Fields))
		for i, f := range cfg.Mapping.Fields {
			fields[i] = fieldResponse{Name: f.Name, Type: f.Type}
		}
		entities = append(entities, entityResponse{
			Name:        name,
			Fields:      fields,
			WatchFields: cfg.WatchFields,
			Limit:       cfg.Limit,
			Dependent:   string(cfg.Dependent),
		})
	}
	writeJSON(w, http.StatusOK, entities)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	payload, ok := decodeWritePayload(w, r)
	if !ok {
		return
	}
	if err := checkFields(engine, payload.Fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recordType := ""
	if payload.Type != nil {
		recordType = *payload.Type
	}
	rec := domain.NewRecord(recordType, payload.Fields)

	ctx := r.Context()
	if payload.WithoutRevision {
		ctx = versioning.WithoutRevision(ctx)
	}
	out, err := engine.Create(ctx, &rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaveResponse(rec, out))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	engine, rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	payload, ok := decodeWritePayload(w, r)
	if !ok {
		return
	}
	if err := checkFields(engine, payload.Fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if payload.LockVersion != nil {
		rec.LockVersion = *payload.LockVersion
	}
	if payload.Type != nil {
		rec.Type = *payload.Type
	}
	for name, value := range payload.Fields {
		rec.Set(name, value)
	}

	ctx := r.Context()
	if payload.WithoutRevision {
		ctx = versioning.WithoutRevision(ctx)
	}
	if payload.WithoutLocking {
		ctx = versioning.WithoutLocking(ctx)
	}
	out, err := engine.Save(ctx, &rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaveResponse(rec, out))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	engine, rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("lockVersion")); raw != "" {
		lock, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "lockVersion must be an integer", http.StatusBadRequest)
			return
		}
		rec.LockVersion = lock
	}
	if err := engine.Destroy(r.Context(), &rec); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	history := engine.History(id)

	var (
		versions []domain.Version
		err      error
	)
	query := r.URL.Query()
	if field := strings.TrimSpace(query.Get("field")); field != "" {
		if _, tracked := domain.LookupField(engine.Fields(), field); !tracked {
			http.Error(w, fmt.Sprintf("unknown field %q", field), http.StatusBadRequest)
			return
		}
		var value any
		if query.Has("value") {
			value = query.Get("value")
		}
		versions, err = history.Where(r.Context(), field, value)
	} else {
		versions, err = history.List(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]versionResponse, len(versions))
	for i, v := range versions {
		resp[i] = toVersionResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEarliest(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	v, found, err := engine.History(id).Earliest(r.Context())
	writeVersion(w, v, found, err)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	v, found, err := engine.History(id).Latest(r.Context())
	writeVersion(w, v, found, err)
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	sequence, ok := parseSequence(w, r)
	if !ok {
		return
	}
	v, found, err := engine.History(id).Find(r.Context(), sequence)
	writeVersion(w, v, found, err)
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	h.handleNeighbour(w, r, (*versioning.History).Before)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.handleNeighbour(w, r, (*versioning.History).After)
}

type neighbourFunc func(*versioning.History, context.Context, domain.Version) (domain.Version, bool, error)

func (h *Handler) handleNeighbour(w http.ResponseWriter, r *http.Request, step neighbourFunc) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	sequence, ok := parseSequence(w, r)
	if !ok {
		return
	}
	history := engine.History(id)
	current, found, err := history.Find(r.Context(), sequence)
	if err != nil || !found {
		writeVersion(w, current, found, err)
		return
	}
	v, found, err := step(history, r.Context(), current)
	writeVersion(w, v, found, err)
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request) {
	engine, rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var payload revertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if payload.LockVersion != nil {
		rec.LockVersion = *payload.LockVersion
	}

	var (
		reverted bool
		err      error
	)
	switch {
	case payload.Sequence != nil:
		reverted, err = engine.RevertTo(r.Context(), &rec, *payload.Sequence)
	case payload.VersionID != nil:
		versionID, parseErr := uuid.Parse(strings.TrimSpace(*payload.VersionID))
		if parseErr != nil {
			http.Error(w, fmt.Sprintf("invalid versionId: %v", parseErr), http.StatusBadRequest)
			return
		}
		target, lookupErr := findVersionByID(r, engine, rec.ID, versionID)
		if lookupErr != nil {
			writeError(w, lookupErr)
			return
		}
		reverted, err = engine.RevertToVersion(r.Context(), &rec, target)
	default:
		http.Error(w, "sequence or versionId is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !reverted {
		http.Error(w, versioning.ErrInvalidRevision.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, revertResponse{Reverted: true, Record: toRecordResponse(rec)})
}

// findVersionByID resolves a version of the record by its row id. Unknown ids
// yield a version without an owner, which the engine declines.
func findVersionByID(r *http.Request, engine *versioning.Engine, recordID, versionID uuid.UUID) (domain.Version, error) {
	versions, err := engine.History(recordID).List(r.Context())
	if err != nil {
		return domain.Version{}, err
	}
	for _, v := range versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return domain.Version{ID: versionID}, nil
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versions, err := engine.History(id).List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if _, err := export.WriteHistory(&buf, format, engine.Fields(), versions); err != nil {
		log.Printf("[api] export %s %s failed: %v", engine.Name(), id, err)
		http.Error(w, fmt.Sprintf("export history: %v", err), http.StatusInternalServerError)
		return
	}
	filename := export.FileName(engine.Name(), id, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleBatchLatest(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var payload batchLatestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	ids := make([]uuid.UUID, len(payload.IDs))
	for i, raw := range payload.IDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid id %q: %v", raw, err), http.StatusBadRequest)
			return
		}
		ids[i] = id
	}

	var (
		latest map[uuid.UUID]domain.Version
		err    error
	)
	loader, batched := h.loaderFor(r, engine.Name())
	if batched {
		latest, err = loader.LoadMany(r.Context(), ids)
	} else {
		latest, err = engine.LatestVersions(r.Context(), ids)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make(map[string]versionResponse, len(latest))
	for id, v := range latest {
		resp[id.String()] = toVersionResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loaderFor(r *http.Request, name string) (*historyloader.LatestVersionLoader, bool) {
	loaders := middleware.LoadersFromContext(r.Context())
	if loaders == nil {
		return nil, false
	}
	return loaders.For(name)
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*versioning.Engine, bool) {
	name := r.PathValue("entity")
	engine, ok := h.registry.Get(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown entity type %q", name), http.StatusNotFound)
		return nil, false
	}
	return engine, true
}

func (h *Handler) engineAndID(w http.ResponseWriter, r *http.Request) (*versioning.Engine, uuid.UUID, bool) {
	engine, ok := h.engine(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid record id: %v", err), http.StatusBadRequest)
		return nil, uuid.Nil, false
	}
	return engine, id, true
}

func (h *Handler) loadRecord(w http.ResponseWriter, r *http.Request) (*versioning.Engine, domain.Record, bool) {
	engine, id, ok := h.engineAndID(w, r)
	if !ok {
		return nil, domain.Record{}, false
	}
	rec, err := engine.Find(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, domain.Record{}, false
	}
	return engine, rec, true
}

func decodeWritePayload(w http.ResponseWriter, r *http.Request) (writePayload, bool) {
	defer r.Body.Close()
	var payload writePayload
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return writePayload{}, false
	}
	return payload, true
}

func checkFields(engine *versioning.Engine, fields map[string]any) error {
	for name := range fields {
		if _, ok := domain.LookupField(engine.Fields(), name); !ok {
			return fmt.Errorf("unknown field %q for %s", name, engine.Name())
		}
	}
	return nil
}

func parseSequence(w http.ResponseWriter, r *http.Request) (int64, bool) {
	sequence, err := strconv.ParseInt(r.PathValue("sequence"), 10, 64)
	if err != nil || sequence < 0 {
		http.Error(w, "sequence must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return sequence, true
}

func writeVersion(w http.ResponseWriter, v domain.Version, found bool, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "version not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toVersionResponse(v))
}

func writeError(w http.ResponseWriter, err error) {
	var persistErr *versioning.PersistenceError
	switch {
	case errors.Is(err, versioning.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, versioning.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &persistErr):
		log.Printf("[api] %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
