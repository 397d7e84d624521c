package transactor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/phonenum"
)

const findPatientQuery = `
SELECT id, given_name, family_name FROM patients WHERE clinic_id = $1 AND normalized_phone = $2
`

const insertPatientQuery = `
INSERT INTO patients (id, clinic_id, normalized_phone, given_name, family_name, created_at)
VALUES ($1, $2, $3, $4, $5, now())
`

const replacePatientIDQuery = `
UPDATE patients SET id = $1 WHERE id = $2
`

// upsertPatient implements step 2: find the patient by normalized phone in
// clinic scope, or mint a temporary local id and a PMS-side patient via C2,
// replacing the temporary id with the PMS id before commit.
func (t *Transactor) upsertPatient(ctx context.Context, tx pgx.Tx, clinicID, countryCode, patientPhone, callerPhone, patientName string) (id, givenName, familyName string, err error) {
	phone := patientPhone
	if phone == "" {
		phone = callerPhone
	}
	normalized := phonenum.Normalize(phone, countryCode)
	if normalized == "" {
		return "", "", "", apierror.New(apierror.InvalidPhoneNumber, "I need a valid phone number to book this appointment.")
	}

	row := tx.QueryRow(ctx, findPatientQuery, clinicID, normalized)
	err = row.Scan(&id, &givenName, &familyName)
	if err == nil {
		return id, givenName, familyName, nil
	}
	if err != pgx.ErrNoRows {
		return "", "", "", apierror.Internal(err)
	}

	givenName, familyName = splitName(patientName)
	tempID := "temp_" + uuid.New().String()
	if _, execErr := tx.Exec(ctx, insertPatientQuery, tempID, clinicID, normalized, givenName, familyName); execErr != nil {
		return "", "", "", apierror.Internal(execErr)
	}

	pmsPatient, createErr := t.client.CreatePatient(ctx, givenName, familyName, normalized)
	if createErr != nil {
		return "", "", "", apierror.Wrap(apierror.InternalError, "I ran into a problem creating your patient record. Please try again.", createErr)
	}
	if _, execErr := tx.Exec(ctx, replacePatientIDQuery, pmsPatient.ID, tempID); execErr != nil {
		return "", "", "", apierror.Internal(execErr)
	}
	return pmsPatient.ID, givenName, familyName, nil
}

// splitName mirrors the original booking flow's "Guest Patient" default
// and first/rest split when the caller only gave one name.
func splitName(raw string) (given, family string) {
	fields := strings.Fields(raw)
	switch len(fields) {
	case 0:
		return "Guest", "Patient"
	case 1:
		return fields[0], "Patient"
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
