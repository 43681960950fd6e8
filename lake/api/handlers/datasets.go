package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
)

type datasetsResponse struct {
	Tables []string `json:"tables"`
}

// ListDatasets returns the names of the queryable tables.
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	tables, err := h.cfg.Datasets.ListTables(r.Context())
	if err != nil {
		http.Error(w, h.internalError("Failed to list datasets", err), http.StatusInternalServerError)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, datasetsResponse{Tables: tables})
}

// GetSchema returns a table's columns and sample rows.
func (h *Handlers) GetSchema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	schema, err := h.cfg.Datasets.Schema(r.Context(), table)
	if errors.Is(err, dataset.ErrTableNotFound) {
		http.Error(w, "Table not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to load schema", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}
