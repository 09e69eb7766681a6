package verification

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	fontFamily = "Arial"
	dateLayout = "2006-01-02"
)

// renderCertificate draws a one-page landscape certificate
func renderCertificate(c *Certificate, v *Verification) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Carbon Credit Certificate "+c.CertificateNumber, true)
	pdf.SetAuthor("EV Carbon Credit Registry", true)
	pdf.AddPage()

	w, h := pdf.GetPageSize()
	pdf.SetDrawColor(46, 125, 50)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, w-20, h-20, "D")

	pdf.SetFont(fontFamily, "B", 28)
	pdf.SetTextColor(46, 125, 50)
	pdf.Ln(12)
	pdf.CellFormat(0, 14, "Carbon Credit Certificate", "", 1, "C", false, 0, "")

	pdf.SetFont(fontFamily, "", 12)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 8, "No. "+c.CertificateNumber, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(fontFamily, "", 14)
	pdf.CellFormat(0, 8, "This certifies that the electric vehicle owner", "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 10, c.UserID, "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 14)
	pdf.CellFormat(0, 8, fmt.Sprintf("avoided %s kg of CO2 emissions and was issued", c.CO2Amount.StringFixed(3)), "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "B", 20)
	pdf.CellFormat(0, 12, c.CreditsAmount.String()+" carbon credits", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Verification", c.VerificationID.String()},
		{"Vehicle", v.VehicleID},
		{"Trips", fmt.Sprintf("%d", v.TripsCount)},
		{"Verified by", c.IssuedBy},
		{"Issued", c.IssuedAt.UTC().Format(dateLayout)},
	}
	pdf.SetFont(fontFamily, "", 11)
	labelW, valueW := 50.0, 110.0
	left := (w - labelW - valueW) / 2
	for _, row := range rows {
		pdf.SetX(left)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(labelW, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(valueW, 7, row[1], "", 1, "L", false, 0, "")
	}

	pdf.SetY(h - 30)
	pdf.SetFont(fontFamily, "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, "One credit represents one metric ton of CO2 avoided.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
