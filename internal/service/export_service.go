package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/export"
)

// ExportFormat selects the rendering of a roster export.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

const rosterPageSize = 100

type rosterSource interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error)
	FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderSheet(sheet export.Sheet) ([]byte, error)
}

// ExportFile is a rendered export ready to be sent.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders rosters and registration sheets.
type ExportService struct {
	enrollments rosterSource
	programs    programReader
	documents   documentLister
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the
// pkg/export defaults.
func NewExportService(enrollments rosterSource, programs programReader, documents documentLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("IUT")
	}
	return &ExportService{
		enrollments: enrollments,
		programs:    programs,
		documents:   documents,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
		now:         time.Now,
	}
}

var rosterColumns = []export.Column{
	{Key: "registration_number", Label: "Matricule"},
	{Key: "last_name", Label: "Nom"},
	{Key: "first_names", Label: "Prénoms"},
	{Key: "national_id", Label: "CNI"},
	{Key: "personal_email", Label: "Email"},
	{Key: "phone", Label: "Téléphone"},
	{Key: "program", Label: "Filière"},
	{Key: "registration_status", Label: "Inscription"},
	{Key: "validation_status", Label: "Validation"},
	{Key: "created_at", Label: "Date"},
}

// Roster renders every enrollment matching filter. Pagination fields of the
// filter are ignored.
func (s *ExportService) Roster(ctx context.Context, filter models.EnrollmentFilter, format ExportFormat) (*ExportFile, error) {
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportPDF {
		return nil, appErrors.WithField(appErrors.ErrValidation, "format", fmt.Sprintf("unsupported export format %q", format))
	}

	dataset := export.Dataset{Columns: rosterColumns}
	filter.PageSize = rosterPageSize
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		for _, item := range items {
			dataset.Rows = append(dataset.Rows, rosterRow(item))
		}
		if len(items) < rosterPageSize || len(dataset.Rows) >= total {
			break
		}
	}

	stamp := s.now().UTC().Format("20060102_150405")
	var (
		file = &ExportFile{Filename: fmt.Sprintf("inscriptions_%s.%s", stamp, format)}
		err  error
	)
	switch format {
	case ExportPDF:
		file.ContentType = "application/pdf"
		file.Content, err = s.pdf.Render(dataset, "Liste des inscrits")
	default:
		file.ContentType = "text/csv; charset=utf-8"
		file.Content, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	s.logger.Info("roster exported", zap.String("format", string(format)), zap.Int("rows", len(dataset.Rows)))
	return file, nil
}

func rosterRow(item models.EnrollmentListItem) map[string]string {
	program := item.ProgramCode
	if item.ProgramName != "" {
		program = item.ProgramCode + " - " + item.ProgramName
	}
	return map[string]string{
		"registration_number": item.RegistrationNumber,
		"last_name":           item.LastName,
		"first_names":         item.FirstNames,
		"national_id":         item.NationalID,
		"personal_email":      item.PersonalEmail,
		"phone":               item.Phone,
		"program":             program,
		"registration_status": registrationLabel(item.RegistrationStatus),
		"validation_status":   validationLabel(item.ValidationStatus),
		"created_at":          item.CreatedAt.Format("02/01/2006"),
	}
}

// Sheet renders the registration sheet of the caller's enrollment record.
func (s *ExportService) Sheet(ctx context.Context, accountID string) (*ExportFile, error) {
	record, err := s.enrollments.FindByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	programName := record.ProgramID
	if program, err := s.programs.FindByID(ctx, record.ProgramID); err == nil {
		programName = program.Code + " - " + program.Name
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	docs, err := s.documents.ListByEnrollment(ctx, record.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}

	content, err := s.pdf.RenderSheet(registrationSheet(record, programName, docs, s.now()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render registration sheet")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("fiche_%s.pdf", strings.ToLower(record.RegistrationNumber)),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

func registrationSheet(record *models.EnrollmentRecord, programName string, docs []models.RequiredDocument, now time.Time) export.Sheet {
	birthDate := ""
	if record.BirthDate != nil {
		birthDate = record.BirthDate.Format("02/01/2006")
	}
	diplomaYear := ""
	if record.DiplomaYear != nil {
		diplomaYear = strconv.Itoa(*record.DiplomaYear)
	}

	uploaded := make(map[models.DocumentKind]models.RequiredDocument, len(docs))
	for _, doc := range docs {
		uploaded[doc.Kind] = doc
	}
	var documents []export.SheetField
	for _, kind := range models.RequiredDocumentKinds() {
		state := "Manquant"
		if doc, ok := uploaded[kind]; ok {
			state = "En attente"
			if doc.Validated {
				state = "Validé"
			}
		}
		documents = append(documents, export.SheetField{Label: kind.Label(), Value: state})
	}

	return export.Sheet{
		Title:     "Fiche d'inscription",
		Subtitle:  programName,
		Reference: record.RegistrationNumber,
		Sections: []export.SheetSection{
			{Heading: "Identité", Fields: []export.SheetField{
				{Label: "Nom", Value: record.LastName},
				{Label: "Prénoms", Value: record.FirstNames},
				{Label: "Date de naissance", Value: birthDate},
				{Label: "Lieu de naissance", Value: record.BirthPlace},
				{Label: "Nationalité", Value: record.Nationality},
				{Label: "Région d'origine", Value: record.RegionOfOrigin},
				{Label: "CNI", Value: record.NationalID},
			}},
			{Heading: "Coordonnées", Fields: []export.SheetField{
				{Label: "Téléphone", Value: record.Phone},
				{Label: "Email", Value: record.PersonalEmail},
				{Label: "Adresse", Value: record.Address},
			}},
			{Heading: "Parents", Fields: []export.SheetField{
				{Label: "Père", Value: joinNonEmpty(record.FatherName, record.FatherPhone)},
				{Label: "Mère", Value: joinNonEmpty(record.MotherName, record.MotherPhone)},
			}},
			{Heading: "Scolarité", Fields: []export.SheetField{
				{Label: "Diplôme", Value: record.Diploma},
				{Label: "Année d'obtention", Value: diplomaYear},
			}},
			{Heading: "Statut", Fields: []export.SheetField{
				{Label: "Inscription", Value: registrationLabel(record.RegistrationStatus)},
				{Label: "Validation", Value: validationLabel(record.ValidationStatus)},
			}},
			{Heading: "Pièces justificatives", Fields: documents},
		},
		Footer: "Édité le " + now.Format("02/01/2006 15:04"),
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " - ")
}

func registrationLabel(status models.RegistrationStatus) string {
	switch status {
	case models.RegistrationConfirmed:
		return "Confirmée"
	case models.RegistrationCancelled:
		return "Annulée"
	default:
		return "En attente"
	}
}

func validationLabel(status models.ValidationStatus) string {
	switch status {
	case models.ValidationValidated:
		return "Validé"
	case models.ValidationRejected:
		return "Rejeté"
	default:
		return "En attente"
	}
}
