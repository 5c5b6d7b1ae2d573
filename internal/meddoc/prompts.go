package meddoc

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a clinical documentation assistant. You are given the transcript of a
doctor-patient video consultation and produce accurate, conservatively worded
clinical documentation. Only document what the transcript supports; mark
anything uncertain as "not discussed". Output plain structured text with
clear section headings.`

var variantInstructions = map[Variant]string{
	VariantFull: `Produce a complete medical encounter record with these sections:
1. Chief Complaint
2. History of Present Illness
3. SOAP Note (Subjective, Objective, Assessment, Plan)
4. Suggested ICD-10 Codes (with one-line rationale each)
5. Prescriptions discussed (drug, dose, frequency, duration)
6. Follow-up and Patient Instructions`,
	VariantSOAP: `Produce a SOAP note only: Subjective, Objective, Assessment, Plan.`,
	VariantCodes: `List suggested ICD-10 and CPT codes only, one per line, each with a
one-line rationale grounded in the transcript.`,
	VariantPrescriptions: `List only the prescriptions discussed: drug, dose, frequency, duration,
and any patient counseling points mentioned.`,
}

// buildPrompt renders the system and user prompts for a request.
func buildPrompt(req Request) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Consultation %s between Dr. %s and patient %s.\n\n",
		req.SessionID, req.DoctorName, req.PatientName)
	b.WriteString("Transcript:\n")
	for _, e := range req.Transcript {
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n",
			e.Timestamp.Format("15:04:05"), e.SpeakerName, e.Speaker, e.Text)
	}

	b.WriteString("\n")
	b.WriteString(variantInstructions[req.Variant])

	if req.CustomInstructions != "" {
		fmt.Fprintf(&b, "\n\nAdditional instructions from the doctor:\n%s", req.CustomInstructions)
	}

	return systemPrompt, b.String()
}
