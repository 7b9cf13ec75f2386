package api

import (
	"errors"
	"strconv"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/session"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/syncqueue"
	"github.com/gofiber/fiber/v2"
)

const defaultHistoryLimit = 50

// API denotes a REST API for a connected analyzer
type API struct {
	device  analyzer.Analyzer
	session *session.Controller
	queue   *syncqueue.Queue
	router  *fiber.App
}

// New instantiates a new API
func New(device analyzer.Analyzer, sess *session.Controller, queue *syncqueue.Queue) *API {

	api := API{
		device:  device,
		session: sess,
		queue:   queue,
		router:  fiber.New(fiber.Config{DisableStartupMessage: true}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/device_info", api.handleDeviceInfo())
	api.router.Post("/device_info/refresh", api.handleDeviceInfoRefresh())
	api.router.Post("/measure", api.handleMeasure())
	api.router.Post("/sync", api.handleSync())
	api.router.Get("/measurements/pending", api.handlePending())
	api.router.Get("/measurements", api.handleHistory())
	api.router.Post("/measurements/:id/link", api.handleLink())

	return &api
}

// Run starts listening on the given endpoint, blocking until shutdown
func (api *API) Run(endpoint string) error {
	return api.router.Listen(endpoint)
}

// Shutdown gracefully stops the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		status := api.device.ConnectionStatus()

		resp := fiber.Map{
			"state":     status.State.String(),
			"measuring": api.session.Measuring(),
		}
		if status.Error != nil {
			resp["error"] = status.Error.Error()
		}

		return c.JSON(resp)
	}
}

func (api *API) handleDeviceInfo() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.device.DeviceInfo())
	}
}

func (api *API) handleDeviceInfoRefresh() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := api.device.RequestDeviceInfo(); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func (api *API) handleMeasure() func(c *fiber.Ctx) error {
	type measureRequest struct {
		CoffeeType string `json:"coffee_type"`
	}

	return func(c *fiber.Ctx) error {
		var req measureRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		coffeeType, ok := analyzer.ParseCoffeeType(req.CoffeeType)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown coffee type: "+req.CoffeeType)
		}

		if err := api.session.Start(coffeeType); err != nil {
			if errors.Is(err, analyzer.ErrBusy) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}

		return c.SendStatus(fiber.StatusAccepted)
	}
}

func (api *API) handleSync() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		synced, err := api.queue.Retry(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		return c.JSON(fiber.Map{"synced": synced})
	}
}

func (api *API) handlePending() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		pending, err := api.queue.Pending()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return c.JSON(pending)
	}
}

func (api *API) handleHistory() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return fiber.NewError(fiber.StatusBadRequest, "invalid limit: "+raw)
			}
			limit = parsed
		}

		history, err := api.queue.History(limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return c.JSON(history)
	}
}

func (api *API) handleLink() func(c *fiber.Ctx) error {
	type linkRequest struct {
		Type string `json:"measurable_type"`
		ID   string `json:"measurable_id"`
	}

	return func(c *fiber.Ctx) error {
		var req linkRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		linkType := analyzer.LinkType(req.Type)
		if linkType != analyzer.LinkTypeInventory && linkType != analyzer.LinkTypeRoast {
			return fiber.NewError(fiber.StatusBadRequest, "unknown link type: "+req.Type)
		}
		if req.ID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing measurable_id")
		}

		if err := api.queue.Link(c.Context(), c.Params("id"), analyzer.Link{
			Type: linkType,
			ID:   req.ID,
		}); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}
