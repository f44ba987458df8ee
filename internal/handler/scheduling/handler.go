package scheduling

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/middleware"
	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/service/scheduling"
	"github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/httputil"
	"github.com/nutricoach/scheduling-api/pkg/validator"
)

const dateLayout = "2006-01-02"

type Handler struct {
	service *scheduling.Service
}

func NewHandler(service *scheduling.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects rg to be behind auth.Authenticate.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	availability := rg.Group("/availability", auth.RequireRole(model.RoleNutritionist))
	{
		availability.PUT("", h.ReplaceAvailability)
		availability.GET("", h.GetAvailability)
	}

	nutritionists := rg.Group("/nutritionists/:id")
	{
		nutritionists.GET("/availability", h.SearchAvailability)
		nutritionists.GET("/slots", h.GenerateSlots)
	}

	appointments := rg.Group("/appointments")
	{
		appointments.POST("", auth.RequireRole(model.RolePatient), h.ScheduleAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PATCH("/:id/status", h.UpdateStatus)
		appointments.POST("/:id/reschedule", h.RescheduleAppointment)
		appointments.DELETE("/:id", auth.RequireRole(model.RoleAdmin), h.DeleteAppointment)
	}
}

func (h *Handler) ReplaceAvailability(c *gin.Context) {
	var req model.ReplaceAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	slots, err := h.service.ManageAvailability(c.Request.Context(), identity(c), req)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) GetAvailability(c *gin.Context) {
	slots, err := h.service.GetAvailability(c.Request.Context(), identity(c))
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) SearchAvailability(c *gin.Context) {
	nutritionistID, err := uuidParam(c, "id", "nutritionist")
	if err != nil {
		abort(c, err)
		return
	}

	var q model.AvailabilityQuery
	if raw := c.Query("date"); raw != "" {
		date, err := h.parseDate(raw)
		if err != nil {
			abort(c, err)
			return
		}
		q.Date = &date
	}
	if raw := c.Query("day_of_week"); raw != "" {
		day, err := model.ParseDayOfWeek(raw)
		if err != nil {
			abort(c, errors.NewBadRequest("invalid day_of_week", err))
			return
		}
		q.DayOfWeek = &day
	}

	slots, err := h.service.SearchAvailability(c.Request.Context(), nutritionistID, q)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) GenerateSlots(c *gin.Context) {
	nutritionistID, err := uuidParam(c, "id", "nutritionist")
	if err != nil {
		abort(c, err)
		return
	}

	date, err := h.parseDate(c.Query("date"))
	if err != nil {
		abort(c, err)
		return
	}
	q := scheduling.SlotQuery{Date: date}

	if raw := c.Query("granularity"); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil || g <= 0 {
			abort(c, errors.NewBadRequest("granularity must be a positive number of minutes", err))
			return
		}
		q.Granularity = g
	}
	if raw := c.Query("current"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			abort(c, errors.NewBadRequest("invalid current appointment id", err))
			return
		}
		q.CurrentAppointmentID = &id
	}

	slots, err := h.service.GenerateSlots(c.Request.Context(), identity(c), nutritionistID, q)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) ScheduleAppointment(c *gin.Context) {
	var req model.ScheduleAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	appointment, err := h.service.ScheduleAppointment(c.Request.Context(), identity(c), req)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithCreated(c, appointment)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	appointments, err := h.service.ListMyAppointments(c.Request.Context(), identity(c))
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointments)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, err := uuidParam(c, "id", "appointment")
	if err != nil {
		abort(c, err)
		return
	}

	appointment, err := h.service.GetAppointment(c.Request.Context(), identity(c), id)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuidParam(c, "id", "appointment")
	if err != nil {
		abort(c, err)
		return
	}

	var req model.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	appointment, err := h.service.UpdateAppointmentStatus(c.Request.Context(), identity(c), id, req)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

func (h *Handler) RescheduleAppointment(c *gin.Context) {
	id, err := uuidParam(c, "id", "appointment")
	if err != nil {
		abort(c, err)
		return
	}

	var req model.RescheduleAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	result, err := h.service.RescheduleAppointment(c.Request.Context(), identity(c), id, req)
	if err != nil {
		abort(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) DeleteAppointment(c *gin.Context) {
	id, err := uuidParam(c, "id", "appointment")
	if err != nil {
		abort(c, err)
		return
	}

	if err := h.service.DeleteAppointment(c.Request.Context(), identity(c), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.NewBadRequest("date is required (YYYY-MM-DD)", nil)
	}
	date, err := time.ParseInLocation(dateLayout, raw, h.service.Location())
	if err != nil {
		return time.Time{}, errors.NewBadRequest("invalid date format, expected YYYY-MM-DD", err)
	}
	return date, nil
}

// identity is safe to call behind Authenticate, which always sets it.
func identity(c *gin.Context) model.Identity {
	id, _ := middleware.IdentityFrom(c)
	return id
}

func uuidParam(c *gin.Context, name, resource string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.NewBadRequest("invalid "+resource+" ID", err)
	}
	return id, nil
}

// bindError keeps field validation failures for the validation middleware and
// turns malformed bodies into a plain bad request.
func bindError(err error) error {
	if validator.FieldErrors(err) != nil {
		return err
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.NewBadRequest("invalid request body", err)
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
