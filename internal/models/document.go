package models

import "time"

// DocumentKind enumerates the closed set of required documents.
type DocumentKind string

const (
	DocumentBirthCertificate   DocumentKind = "birth_certificate"
	DocumentDiploma            DocumentKind = "diploma"
	DocumentTranscript         DocumentKind = "transcript"
	DocumentMedicalCertificate DocumentKind = "medical_certificate"
	DocumentPhoto              DocumentKind = "photo"
	DocumentPaymentReceipt     DocumentKind = "payment_receipt"
	DocumentMotivationLetter   DocumentKind = "motivation_letter"
)

var requiredDocumentKinds = []DocumentKind{
	DocumentBirthCertificate,
	DocumentDiploma,
	DocumentTranscript,
	DocumentMedicalCertificate,
	DocumentPhoto,
	DocumentPaymentReceipt,
	DocumentMotivationLetter,
}

var documentLabels = map[DocumentKind]string{
	DocumentBirthCertificate:   "Acte de naissance",
	DocumentDiploma:            "Diplôme",
	DocumentTranscript:         "Relevé de notes",
	DocumentMedicalCertificate: "Certificat médical",
	DocumentPhoto:              "Photo d'identité",
	DocumentPaymentReceipt:     "Reçu de paiement",
	DocumentMotivationLetter:   "Lettre de motivation",
}

// RequiredDocumentKinds returns every required kind in display order.
func RequiredDocumentKinds() []DocumentKind {
	out := make([]DocumentKind, len(requiredDocumentKinds))
	copy(out, requiredDocumentKinds)
	return out
}

// Valid reports whether the kind belongs to the closed set.
func (k DocumentKind) Valid() bool {
	_, ok := documentLabels[k]
	return ok
}

// Label returns the human readable document name.
func (k DocumentKind) Label() string {
	if label, ok := documentLabels[k]; ok {
		return label
	}
	return string(k)
}

// RequiredDocument is the single document slot for an (enrollment, kind) pair.
type RequiredDocument struct {
	ID           string       `db:"id" json:"id"`
	EnrollmentID string       `db:"enrollment_id" json:"enrollment_id"`
	Kind         DocumentKind `db:"kind" json:"kind"`
	FileKey      string       `db:"file_key" json:"-"`
	OriginalName string       `db:"original_name" json:"original_name"`
	ContentType  string       `db:"content_type" json:"content_type"`
	SizeBytes    int64        `db:"size_bytes" json:"size_bytes"`
	UploadedAt   time.Time    `db:"uploaded_at" json:"uploaded_at"`
	Validated    bool         `db:"validated" json:"validated"`
	ValidatorID  *string      `db:"validator_id" json:"validator_id,omitempty"`
	ReviewedAt   *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Comment      string       `db:"comment" json:"comment"`
}

// PendingDocument is a not-yet-validated document joined with its owner for review queues.
type PendingDocument struct {
	RequiredDocument
	RegistrationNumber string `db:"registration_number" json:"registration_number"`
	StudentName        string `db:"student_name" json:"student_name"`
	ProgramID          string `db:"program_id" json:"program_id"`
	ProgramCode        string `db:"program_code" json:"program_code"`
}

// PendingDocumentFilter narrows the document review queue.
type PendingDocumentFilter struct {
	Kind      *DocumentKind
	ProgramID string
	Page      int
	PageSize  int
}

// MissingKinds returns the required kinds with no uploaded document, validated or not.
func MissingKinds(docs []RequiredDocument) []DocumentKind {
	present := make(map[DocumentKind]struct{}, len(docs))
	for _, doc := range docs {
		present[doc.Kind] = struct{}{}
	}
	missing := make([]DocumentKind, 0, len(requiredDocumentKinds))
	for _, kind := range requiredDocumentKinds {
		if _, ok := present[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	return missing
}

// DocumentRatio summarises how many uploaded documents are validated.
type DocumentRatio struct {
	Validated int     `json:"validated"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ValidationRatio computes validated/uploaded; Percent is 0 when nothing is uploaded.
func ValidationRatio(docs []RequiredDocument) DocumentRatio {
	ratio := DocumentRatio{Total: len(docs)}
	for _, doc := range docs {
		if doc.Validated {
			ratio.Validated++
		}
	}
	if ratio.Total > 0 {
		ratio.Percent = float64(ratio.Validated) / float64(ratio.Total) * 100
	}
	return ratio
}
