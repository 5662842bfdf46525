package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// qrImageSize is the rendered PNG edge length in pixels.
const qrImageSize = 256

// QRPayload is the JSON body served by /api/qr_code. QRCode holds a base64
// encoded PNG suitable for inline embedding in an <img> tag.
type QRPayload struct {
	QRCode string `json:"qr_code"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// registrationLink returns the fixed public registration URL. It is not
// workshop-specific: the active workshop is resolved server-side on every
// request, so the same printed link stays valid across workshop changes.
func registrationLink(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/register"
}

// generateQR renders link as a QR code PNG using high error correction so the
// code stays scannable when printed small or slightly damaged.
func generateQR(link string) (*QRPayload, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registration url: %w", err)
	}

	png, err := qrcode.Encode(link, qrcode.High, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	return &QRPayload{
		QRCode: base64.StdEncoding.EncodeToString(png),
		URL:    link,
		Domain: u.Host,
	}, nil
}
