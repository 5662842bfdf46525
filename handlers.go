package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Handlers struct {
	DB *DB
	// BaseURL is the externally reachable address of this server, used for
	// the published registration link and its QR code.
	BaseURL string
}

// Router builds the HTTP surface. Middleware is applied by the caller.
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /admin", h.HandleAdminDashboard)
	mux.HandleFunc("POST /admin/add_workshop", h.HandleAddWorkshop)
	mux.HandleFunc("GET /admin/activate_workshop/{id}", h.HandleActivateWorkshop)
	mux.HandleFunc("GET /admin/registrations", h.HandleRegistrations)
	mux.HandleFunc("GET /admin/export_csv", h.HandleExportCSV)
	mux.HandleFunc("GET /register", h.HandleRegisterForm)
	mux.HandleFunc("POST /register", h.HandleRegisterSubmit)
	mux.HandleFunc("GET /api/qr_code", h.HandleQRCode)
	mux.HandleFunc("GET /api/workshop_status", h.HandleWorkshopStatus)

	return mux
}

// SendJSON is a helper for sending JSON responses
func SendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error": "Failed to encode response"}`, http.StatusInternalServerError)
	}
}

// redirectNotice sends the user back to path carrying a flash-style message as
// a query parameter. There are no sessions, so notices travel in the URL.
func redirectNotice(w http.ResponseWriter, r *http.Request, path, notice string) {
	http.Redirect(w, r, path+"?notice="+url.QueryEscape(notice), http.StatusSeeOther)
}

func redirectError(w http.ResponseWriter, r *http.Request, path, msg string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(msg), http.StatusSeeOther)
}

func serverError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// HandleIndex handles GET /
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/admin", http.StatusFound)
}

type adminPageData struct {
	Workshops    []Workshop
	CurrentCount int
	QRCode       string
	QRURL        string
	Notice       string
	Error        string
}

// HandleAdminDashboard handles GET /admin
func (h *Handlers) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workshops, err := h.DB.ListWorkshops(ctx)
	if err != nil {
		serverError(w, "failed to list workshops", err)
		return
	}

	var count int
	active, err := h.DB.ActiveWorkshop(ctx)
	switch {
	case err == nil:
		if count, err = h.DB.CountRegistrations(ctx, active.ID); err != nil {
			serverError(w, "failed to count registrations", err)
			return
		}
	case errors.Is(err, ErrNoActiveWorkshop):
		// Dashboard still renders; count stays zero.
	default:
		serverError(w, "failed to query active workshop", err)
		return
	}

	data := adminPageData{
		Workshops:    workshops,
		CurrentCount: count,
		QRURL:        registrationLink(h.BaseURL),
		Notice:       r.URL.Query().Get("notice"),
		Error:        r.URL.Query().Get("error"),
	}

	// A broken QR renderer degrades to a dashboard without the image.
	if qr, err := generateQR(data.QRURL); err != nil {
		slog.Error("failed to generate qr code", "error", err)
	} else {
		data.QRCode = qr.QRCode
	}

	renderPage(w, "admin.html", data)
}

// HandleAddWorkshop handles POST /admin/add_workshop
func (h *Handlers) HandleAddWorkshop(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectError(w, r, "/admin", "Invalid form submission")
		return
	}

	date := strings.TrimSpace(r.PostFormValue("date"))
	topic := strings.TrimSpace(r.PostFormValue("topic"))
	instructor := strings.TrimSpace(r.PostFormValue("instructor"))
	timeOfDay := strings.TrimSpace(r.PostFormValue("time"))

	if date == "" || topic == "" || instructor == "" || timeOfDay == "" {
		redirectError(w, r, "/admin", "Date, topic, instructor and time are required")
		return
	}

	price, err := strconv.ParseFloat(r.PostFormValue("price"), 64)
	if err != nil || price < 0 {
		redirectError(w, r, "/admin", "Price must be a non-negative number")
		return
	}

	maxParticipants, err := strconv.Atoi(r.PostFormValue("max_participants"))
	if err != nil || maxParticipants <= 0 {
		redirectError(w, r, "/admin", "Max participants must be a positive number")
		return
	}

	if _, err := h.DB.CreateWorkshop(r.Context(), date, topic, instructor, timeOfDay, price, maxParticipants); err != nil {
		serverError(w, "failed to create workshop", err)
		return
	}

	redirectNotice(w, r, "/admin", "Workshop added successfully!")
}

// HandleActivateWorkshop handles GET /admin/activate_workshop/{id}
func (h *Handlers) HandleActivateWorkshop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		redirectError(w, r, "/admin", "Invalid workshop ID")
		return
	}

	err = h.DB.ActivateWorkshop(r.Context(), id)
	if errors.Is(err, ErrWorkshopNotFound) {
		redirectError(w, r, "/admin", "Workshop not found")
		return
	}
	if err != nil {
		serverError(w, "failed to activate workshop", err)
		return
	}

	redirectNotice(w, r, "/admin", "Workshop activated successfully!")
}

type registerPageData struct {
	Workshop     *Workshop
	CurrentCount int
	Remaining    int
	Full         bool
	Error        string
}

// HandleRegisterForm handles GET /register
func (h *Handlers) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workshop, err := h.DB.ActiveWorkshop(ctx)
	if errors.Is(err, ErrNoActiveWorkshop) {
		renderPage(w, "no_workshop.html", nil)
		return
	}
	if err != nil {
		serverError(w, "failed to query active workshop", err)
		return
	}

	count, err := h.DB.CountRegistrations(ctx, workshop.ID)
	if err != nil {
		serverError(w, "failed to count registrations", err)
		return
	}

	renderPage(w, "register.html", registerPageData{
		Workshop:     workshop,
		CurrentCount: count,
		Remaining:    workshop.Remaining(count),
		Full:         workshop.IsFull(count),
		Error:        r.URL.Query().Get("error"),
	})
}

type successPageData struct {
	Name             string
	ConfirmationCode string
	Workshop         *Workshop
}

// HandleRegisterSubmit handles POST /register
func (h *Handlers) HandleRegisterSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectError(w, r, "/register", "Invalid form submission")
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	phone := strings.TrimSpace(r.PostFormValue("phone"))
	company := strings.TrimSpace(r.PostFormValue("company"))
	experience := strings.TrimSpace(r.PostFormValue("experience"))

	// Required fields are checked before any storage access.
	if name == "" || email == "" || experience == "" {
		redirectError(w, r, "/register", "Name, email and experience level are required")
		return
	}

	reg, workshop, err := h.DB.CreateRegistration(r.Context(), name, email, phone, company, experience)
	if errors.Is(err, ErrNoActiveWorkshop) {
		redirectError(w, r, "/register", "No active workshop available")
		return
	}
	if errors.Is(err, ErrWorkshopFull) {
		redirectError(w, r, "/register", "Sorry, this workshop is fully booked!")
		return
	}
	if err != nil {
		serverError(w, "failed to create registration", err)
		return
	}

	slog.Info("registration created",
		"workshop_id", workshop.ID,
		"registration_id", reg.ID,
		"confirmation_code", reg.ConfirmationCode,
	)

	renderPage(w, "success.html", successPageData{
		Name:             reg.Name,
		ConfirmationCode: reg.ConfirmationCode,
		Workshop:         workshop,
	})
}

type registrationsPageData struct {
	Registrations []RegistrationRecord
}

// HandleRegistrations handles GET /admin/registrations
func (h *Handlers) HandleRegistrations(w http.ResponseWriter, r *http.Request) {
	records, err := h.DB.ListRegistrations(r.Context())
	if err != nil {
		serverError(w, "failed to list registrations", err)
		return
	}

	renderPage(w, "registrations.html", registrationsPageData{Registrations: records})
}

// csvHeader is the fixed first row of every export.
var csvHeader = []string{
	"Name", "Email", "Phone", "Company", "Experience Level",
	"Workshop Topic", "Workshop Date", "Workshop Time", "Registration Date",
}

// HandleExportCSV handles GET /admin/export_csv. The filename carries the
// export's generation date, not any workshop date.
func (h *Handlers) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	records, err := h.DB.ListRegistrations(r.Context())
	if err != nil {
		serverError(w, "failed to list registrations", err)
		return
	}

	filename := fmt.Sprintf("workshop_registrations_%s.csv", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		slog.Error("failed to write csv header", "error", err)
		return
	}
	for _, rec := range records {
		row := []string{
			rec.Name, rec.Email, rec.Phone, rec.Company, rec.ExperienceLevel,
			rec.WorkshopTopic, rec.WorkshopDate, rec.WorkshopTime,
			rec.RegistrationDate.Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(row); err != nil {
			slog.Error("failed to write csv row", "error", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("failed to flush csv", "error", err)
	}
}

// HandleQRCode handles GET /api/qr_code
func (h *Handlers) HandleQRCode(w http.ResponseWriter, r *http.Request) {
	qr, err := generateQR(registrationLink(h.BaseURL))
	if err != nil {
		slog.Error("failed to generate qr code", "error", err)
		SendJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate QR code"})
		return
	}
	SendJSON(w, http.StatusOK, qr)
}

// WorkshopStatus is the lightweight polling payload for /api/workshop_status.
type WorkshopStatus struct {
	Status          string `json:"status"`
	CurrentCount    int    `json:"current_count"`
	MaxParticipants int    `json:"max_participants"`
	SpotsRemaining  int    `json:"spots_remaining"`
}

// HandleWorkshopStatus handles GET /api/workshop_status
func (h *Handlers) HandleWorkshopStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workshop, err := h.DB.ActiveWorkshop(ctx)
	if errors.Is(err, ErrNoActiveWorkshop) {
		SendJSON(w, http.StatusOK, map[string]string{"status": "no_workshop"})
		return
	}
	if err != nil {
		slog.Error("failed to query active workshop", "error", err)
		SendJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	count, err := h.DB.CountRegistrations(ctx, workshop.ID)
	if err != nil {
		slog.Error("failed to count registrations", "error", err)
		SendJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	SendJSON(w, http.StatusOK, WorkshopStatus{
		Status:          "active",
		CurrentCount:    count,
		MaxParticipants: workshop.MaxParticipants,
		SpotsRemaining:  workshop.Remaining(count),
	})
}
