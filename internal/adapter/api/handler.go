package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/domain/repository"
	"itinerary-core/internal/usecase"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const preferencesKeyPrefix = "prefs:"

type GenerationHandler struct {
	sessions  *Sessions
	store     repository.TripStore
	logger    *zap.Logger
	keepAlive time.Duration
}

func NewGenerationHandler(sessions *Sessions, store repository.TripStore, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		sessions:  sessions,
		store:     store,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
}

func (h *GenerationHandler) coordinator(c *fiber.Ctx) *usecase.Coordinator {
	return h.sessions.Get(c.Get(SessionHeader))
}

func (h *GenerationHandler) StartGeneration(c *fiber.Ctx) error {
	var req entity.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	coord := h.coordinator(c)
	if err := coord.StartGeneration(req); err != nil {
		return h.startError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(coord.State())
}

type updateRequest struct {
	Itinerary   entity.Itinerary `json:"itinerary"`
	Instruction string           `json:"instruction"`
}

func (h *GenerationHandler) StartUpdate(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	coord := h.coordinator(c)
	if err := coord.StartUpdate(req.Itinerary, req.Instruction); err != nil {
		return h.startError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(coord.State())
}

// startError maps synchronous start failures to HTTP status codes.
func (h *GenerationHandler) startError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, entity.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": entity.UserMessage(err)})
	case errors.Is(err, entity.ErrQuotaExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": entity.UserMessage(err)})
	default:
		h.logger.Error("failed to start generation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	coord := h.coordinator(c)
	coord.Cancel()
	return c.JSON(coord.State())
}

func (h *GenerationHandler) Reset(c *fiber.Ctx) error {
	coord := h.coordinator(c)
	coord.Reset()
	return c.JSON(coord.State())
}

func (h *GenerationHandler) State(c *fiber.Ctx) error {
	return c.JSON(h.coordinator(c).State())
}

func (h *GenerationHandler) Result(c *fiber.Ctx) error {
	it, ok := h.coordinator(c).Result()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no itinerary has been generated yet"})
	}
	return c.JSON(it)
}

// Events streams state changes as server-sent events. The stream opens with
// the current state and closes once a run reaches a terminal state.
func (h *GenerationHandler) Events(c *fiber.Ctx) error {
	coord := h.coordinator(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	updates := make(chan entity.GenerationState, 32)
	unsubscribe := coord.Subscribe(func(s entity.GenerationState) {
		select {
		case updates <- s:
		default:
			// Slow reader; the keep-alive tick re-reads the state.
		}
	})
	initial := coord.State()
	keepAlive := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		if err := writeEvent(w, initial); err != nil {
			return
		}
		if initial.Status == entity.StatusSuccess || initial.Status == entity.StatusError {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case s := <-updates:
				if err := writeEvent(w, s); err != nil {
					return
				}
				if s.Terminal() {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
				if s := coord.State(); s.Terminal() {
					_ = writeEvent(w, s)
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, s entity.GenerationState) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func (h *GenerationHandler) GetTrip(c *fiber.Ctx) error {
	payload, ok, err := h.store.Load(c.UserContext(), usecase.TripKeyPrefix+c.Params("id"))
	if err != nil {
		h.logger.Error("failed to load trip", zap.String("id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": entity.ErrNotFound.Error()})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload)
}

func (h *GenerationHandler) DeleteTrip(c *fiber.Ctx) error {
	if err := h.store.Delete(c.UserContext(), usecase.TripKeyPrefix+c.Params("id")); err != nil {
		h.logger.Error("failed to delete trip", zap.String("id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *GenerationHandler) GetPreferences(c *fiber.Ctx) error {
	payload, ok, err := h.store.Load(c.UserContext(), preferencesKey(c))
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	if !ok {
		return c.JSON(entity.Preferences{Pace: entity.PaceModerate})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload)
}

func (h *GenerationHandler) PutPreferences(c *fiber.Ctx) error {
	var prefs entity.Preferences
	if err := c.BodyParser(&prefs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	switch prefs.Pace {
	case "":
		prefs.Pace = entity.PaceModerate
	case entity.PaceSlow, entity.PaceModerate, entity.PaceFast:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("unknown pace %q", prefs.Pace)})
	}

	payload, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if _, err := h.store.Save(c.UserContext(), preferencesKey(c), payload); err != nil {
		h.logger.Error("failed to save preferences", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(prefs)
}

func preferencesKey(c *fiber.Ctx) string {
	session := c.Get(SessionHeader)
	if session == "" {
		session = defaultSession
	}
	return preferencesKeyPrefix + session
}
