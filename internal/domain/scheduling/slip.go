package scheduling

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// renderSlip draws a single-page A4 slip for an appointment.
func renderSlip(v *AppointmentView, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 70, 140)
	pdf.CellFormat(0, 10, "MediTrust Appointment Slip", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, "Generated "+generatedAt.UTC().Format(slotTimeLayout), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	slipRow(pdf, "Appointment", "#"+strconv.FormatInt(v.ID, 10), true)
	slipRow(pdf, "Status", strings.ToUpper(v.Status), false)
	slipRow(pdf, "Date", v.SlotStart.UTC().Format("Monday, 02 Jan 2006"), false)
	slipRow(pdf, "Time", v.SlotStart.UTC().Format("15:04")+" - "+v.SlotEnd.UTC().Format("15:04")+" UTC", false)
	pdf.Ln(4)

	slipRow(pdf, "Doctor", v.DoctorName, true)
	slipRow(pdf, "Specialization", v.Specialization, false)
	slipRow(pdf, "Clinic", orDash(v.ClinicAddress), false)
	pdf.Ln(4)

	slipRow(pdf, "Patient", v.PatientName, true)
	slipRow(pdf, "Email", orDash(v.PatientEmail), false)
	slipRow(pdf, "Phone", orDash(v.PatientPhone), false)

	pdf.SetY(pdf.GetY() + 12)
	pdf.MultiCell(0, 5, "Please arrive 10 minutes before your appointment time.", "", "L", false)
	pdf.CellFormat(0, 10, "This is a computer generated slip", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func slipRow(pdf *gofpdf.Fpdf, label, value string, header bool) {
	if header {
		pdf.SetFont("Arial", "B", 12)
	} else {
		pdf.SetFont("Arial", "", 10)
	}
	pdf.CellFormat(45, 9, label, "1", 0, "", false, 0, "")
	pdf.CellFormat(0, 9, value, "1", 1, "", false, 0, "")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
