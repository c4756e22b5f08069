package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const (
	actionProfile   = "/enrollments/me"
	actionDocuments = "/documents"
	actionLogin     = "/auth/login"
	actionReview    = "/admin/documents/pending"
	actionImports   = "/admin/imports"
)

func optionalSender(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// EnrollmentCompleteDraft announces a created enrollment record and its registration number.
func EnrollmentCompleteDraft(record *models.EnrollmentRecord) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: record.AccountID,
		Kind:        models.NotifyEnrollmentComplete,
		Priority:    models.PriorityHigh,
		Title:       "Inscription complétée avec succès",
		Body: fmt.Sprintf("Félicitations %s, votre inscription académique a été enregistrée. Votre matricule est : %s",
			record.FirstNames, record.RegistrationNumber),
		ActionURL: actionProfile,
	}
}

// EnrollmentValidatedDraft tells the owner their record was validated.
func EnrollmentValidatedDraft(record *models.EnrollmentRecord, programName, adminID string) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: record.AccountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyEnrollmentValidated,
		Priority:    models.PriorityHigh,
		Title:       "Votre inscription a été validée",
		Body: fmt.Sprintf("Votre inscription en %s a été validée. Vous pouvez maintenant accéder à tous les services.",
			programName),
		ActionURL: actionProfile,
	}
}

// EnrollmentRejectedDraft tells the owner their record was rejected and why.
func EnrollmentRejectedDraft(record *models.EnrollmentRecord, adminID, reason string) models.NotificationDraft {
	body := "Votre inscription a été rejetée."
	if reason = strings.TrimSpace(reason); reason != "" {
		body += "\nRaison : " + reason
	}
	body += "\nVeuillez corriger votre dossier puis le soumettre à nouveau."
	return models.NotificationDraft{
		RecipientID: record.AccountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyEnrollmentRejected,
		Priority:    models.PriorityHigh,
		Title:       "Votre inscription a été rejetée",
		Body:        body,
		ActionURL:   actionProfile,
	}
}

var registrationStatusLabels = map[models.RegistrationStatus]string{
	models.RegistrationPending:   "en attente",
	models.RegistrationConfirmed: "confirmée",
	models.RegistrationCancelled: "annulée",
}

// RegistrationStatusDraft reports an administrative registration change.
func RegistrationStatusDraft(record *models.EnrollmentRecord, adminID string) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: record.AccountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyRegistrationChanged,
		Priority:    models.PriorityHigh,
		Title:       "Statut d'inscription mis à jour",
		Body: fmt.Sprintf("Votre inscription %s est désormais %s.",
			record.RegistrationNumber, registrationStatusLabels[record.RegistrationStatus]),
		ActionURL: actionProfile,
	}
}

// DocumentUploadedDraft confirms a stored document.
func DocumentUploadedDraft(accountID string, kind models.DocumentKind) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: accountID,
		Kind:        models.NotifyDocumentUploaded,
		Priority:    models.PriorityLow,
		Title:       "Document reçu : " + kind.Label(),
		Body:        fmt.Sprintf("Votre document \"%s\" a bien été reçu et sera examiné prochainement.", kind.Label()),
		ActionURL:   actionDocuments,
	}
}

// DocumentValidatedDraft tells the owner a document was approved.
func DocumentValidatedDraft(accountID string, kind models.DocumentKind, adminID string) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: accountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyDocumentValidated,
		Priority:    models.PriorityNormal,
		Title:       "Document validé : " + kind.Label(),
		Body:        fmt.Sprintf("Votre document \"%s\" a été validé avec succès.", kind.Label()),
		ActionURL:   actionDocuments,
	}
}

// DocumentRejectedDraft tells the owner a document was refused, with the reviewer's comment.
func DocumentRejectedDraft(accountID string, kind models.DocumentKind, adminID, comment string) models.NotificationDraft {
	body := fmt.Sprintf("Votre document \"%s\" a été rejeté.", kind.Label())
	if comment = strings.TrimSpace(comment); comment != "" {
		body += "\nRaison : " + comment
	}
	body += "\nVeuillez soumettre un nouveau document."
	return models.NotificationDraft{
		RecipientID: accountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyDocumentRejected,
		Priority:    models.PriorityHigh,
		Title:       "Document rejeté : " + kind.Label(),
		Body:        body,
		ActionURL:   actionDocuments,
	}
}

// DocumentsMissingDraft lists the kinds still to upload.
func DocumentsMissingDraft(accountID, adminID string, missing []models.DocumentKind) models.NotificationDraft {
	labels := make([]string, len(missing))
	for i, kind := range missing {
		labels[i] = kind.Label()
	}
	return models.NotificationDraft{
		RecipientID: accountID,
		SenderID:    optionalSender(adminID),
		Kind:        models.NotifyDocumentsMissing,
		Priority:    models.PriorityHigh,
		Title:       "Documents manquants",
		Body: fmt.Sprintf("Il vous manque les documents suivants : %s. Veuillez les soumettre pour compléter votre dossier.",
			strings.Join(labels, ", ")),
		ActionURL: actionDocuments,
	}
}

// AccountCreatedDraft gives an imported student their credentials.
func AccountCreatedDraft(accountID, operatorID, username, temporaryPassword string) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: accountID,
		SenderID:    optionalSender(operatorID),
		Kind:        models.NotifyImportSuccess,
		Priority:    models.PriorityUrgent,
		Title:       "Votre compte a été créé",
		Body: fmt.Sprintf("Votre compte étudiant a été créé suite à l'import de vos données. "+
			"Veuillez vous connecter pour vérifier et compléter votre inscription. "+
			"Identifiant : %s. Mot de passe temporaire : %s", username, temporaryPassword),
		ActionURL: actionLogin,
	}
}

// ImportFinishedDraft summarises a batch for its operator.
func ImportFinishedDraft(batch *models.ImportBatch) models.NotificationDraft {
	kind, priority, title := models.NotifyImportSuccess, models.PriorityNormal, "Import terminé"
	if batch.ErrorCount > 0 || batch.Aborted() {
		kind, priority, title = models.NotifyImportError, models.PriorityHigh, "Import terminé avec des erreurs"
	}
	body := fmt.Sprintf("%d ligne(s) traitée(s) : %d importée(s), %d en erreur.", batch.TotalRows, batch.SuccessCount, batch.ErrorCount)
	if batch.Aborted() {
		body += "\nImport interrompu : " + *batch.AbortReason
	}
	return models.NotificationDraft{
		RecipientID: batch.OperatorID,
		Kind:        kind,
		Priority:    priority,
		Title:       title,
		Body:        body,
		ActionURL:   actionImports + "/" + batch.ID,
	}
}

// PendingDocumentsReminderDraft nudges an administrator about the review backlog.
func PendingDocumentsReminderDraft(adminID string, pending int) models.NotificationDraft {
	return models.NotificationDraft{
		RecipientID: adminID,
		Kind:        models.NotifyReminder,
		Priority:    models.PriorityHigh,
		Title:       "Documents en attente de validation",
		Body:        fmt.Sprintf("%d documents nécessitent votre attention", pending),
		ActionURL:   actionReview,
	}
}
