package controller

import (
	"fmt"

	"clinical-report-be/internal/dto"
	"clinical-report-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	serviceName    = "clinical-report-be"
	serviceVersion = "1.0.0"
)

type IStatusController interface {
	RegisterRoutes(r fiber.Router)
	Status(ctx *fiber.Ctx) error
}

type statusController struct {
	reports service.IReportService
	esHost  string
	project string
}

func NewStatusController(reports service.IReportService, esHost, project string) IStatusController {
	return &statusController{reports: reports, esHost: esHost, project: project}
}

func (c *statusController) RegisterRoutes(r fiber.Router) {
	r.Get("/status", c.Status)
	r.Get("/", c.Status)
}

func (c *statusController) Status(ctx *fiber.Ctx) error {
	return ctx.JSON(dto.StatusResponse{
		Name:          serviceName,
		Version:       serviceVersion,
		Description:   fmt.Sprintf("Clinical and genomic report exports for the %s portal.", c.project),
		Elasticsearch: c.esHost,
		Project:       c.project,
		Reports:       c.reports.Reports(),
	})
}
