package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/booking-manager/backend/internal/api/middleware"
	"github.com/booking-manager/backend/internal/audit"
)

// Auditor finds duplicate events. *audit.Auditor implements it.
type Auditor interface {
	FindExact(ctx context.Context, userID string) ([]audit.ExactGroup, error)
	RemoveExact(ctx context.Context, userID string) (*audit.Report, error)
	ScanSimilar(ctx context.Context, userID string) ([]audit.SimilarGroup, error)
}

// ListDuplicates reports exact duplicate groups. userID "all" covers every owner.
func ListDuplicates(a Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := a.FindExact(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to find duplicates")
			return
		}
		if groups == nil {
			groups = []audit.ExactGroup{}
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

// RemoveDuplicates deletes all but the newest event of each exact group.
func RemoveDuplicates(a Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := a.RemoveExact(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to remove duplicates")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ListSimilar reports clusters of near-identical events. Nothing is deleted.
func ListSimilar(a Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := a.ScanSimilar(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to scan for similar events")
			return
		}
		if groups == nil {
			groups = []audit.SimilarGroup{}
		}
		writeJSON(w, http.StatusOK, groups)
	}
}
