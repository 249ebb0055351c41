package appointment

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

type CompletionTermStatus string

const (
	TermPendingClientAcceptance CompletionTermStatus = "PendingClientAcceptance"
	TermAcceptedByClient        CompletionTermStatus = "AcceptedByClient"
	TermContestedByClient       CompletionTermStatus = "ContestedByClient"
	TermExpired                 CompletionTermStatus = "Expired"
	TermEscalatedToAdmin        CompletionTermStatus = "EscalatedToAdmin"
)

type AcceptanceMethod string

const (
	AcceptanceMethodPin       AcceptanceMethod = "Pin"
	AcceptanceMethodSignature AcceptanceMethod = "SignatureName"
)

const (
	minSignatureNameLen = 3
	minContestReasonLen = 5
)

// CompletionTerm is the tamper-evident acceptance record for finished work.
// Only the salted hash of the acceptance PIN is ever stored; the plaintext
// leaves the process exactly once, in the outbound notification and the
// response to the generating call.
type CompletionTerm struct {
	ID               uuid.UUID
	ServiceRequestID uuid.UUID
	AppointmentID    uuid.UUID
	ProviderID       uuid.UUID
	ClientID         uuid.UUID

	Status  CompletionTermStatus
	Summary string

	// Canonical serialized payload plus its hash, regenerated with the PIN.
	Payload     string
	PayloadHash string

	PinHash           *string
	PinExpiresAt      *time.Time
	PinFailedAttempts int

	AcceptedWithMethod    *AcceptanceMethod
	AcceptedSignatureName *string
	AcceptedAt            *time.Time

	ContestReason *string
	ContestedAt   *time.Time
	EscalatedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// generatePin produces a fixed-length numeric PIN using crypto/rand.
func generatePin(length int) (string, error) {
	pin := make([]byte, length)
	for i := range pin {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pin digit: %w", err)
		}
		pin[i] = byte('0' + n.Int64())
	}
	return string(pin), nil
}

// hashPin salts the PIN with the appointment id so identical PINs on
// different appointments never share a stored hash.
func hashPin(appointmentID uuid.UUID, pin string) string {
	sum := sha256.Sum256([]byte(appointmentID.String() + ":" + pin))
	return hex.EncodeToString(sum[:])
}

// pinMatches compares in constant time.
func pinMatches(appointmentID uuid.UUID, pin, storedHash string) bool {
	candidate := hashPin(appointmentID, pin)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
