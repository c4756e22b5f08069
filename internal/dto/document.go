package dto

import (
	"fmt"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

// DocumentValidationRequest approves or rejects an uploaded document.
type DocumentValidationRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Comment  string `json:"comment"`
}

// PendingDocumentQuery binds the document review queue filters.
type PendingDocumentQuery struct {
	Kind      string `form:"kind"`
	ProgramID string `form:"program_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// ToFilter converts the query into a repository filter.
func (q PendingDocumentQuery) ToFilter() (models.PendingDocumentFilter, error) {
	filter := models.PendingDocumentFilter{ProgramID: q.ProgramID, Page: q.Page, PageSize: q.PageSize}
	if q.Kind != "" {
		kind := models.DocumentKind(q.Kind)
		if !kind.Valid() {
			return filter, appErrors.WithField(appErrors.ErrValidation, "kind", fmt.Sprintf("unknown document kind %q", q.Kind))
		}
		filter.Kind = &kind
	}
	return filter, nil
}
