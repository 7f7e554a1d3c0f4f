package controller

import (
	"fmt"

	"clinical-report-be/internal/dto"
	"clinical-report-be/internal/pkg/serverutils"
	"clinical-report-be/internal/service"
	"clinical-report-be/pkg/reportconfig"

	"github.com/gofiber/fiber/v2"
)

type IReportController interface {
	RegisterRoutes(r fiber.Router)
	ClinicalData(ctx *fiber.Ctx) error
	FamilyClinicalData(ctx *fiber.Ctx) error
	BiospecimenData(ctx *fiber.Ctx) error
	FileManifest(ctx *fiber.Ctx) error
	FileManifestStats(ctx *fiber.Ctx) error
	BiospecimenRequest(ctx *fiber.Ctx) error
	BiospecimenRequestStats(ctx *fiber.Ctx) error
}

type reportController struct {
	service   service.IReportService
	jwtSecret string
}

func NewReportController(service service.IReportService, jwtSecret string) IReportController {
	return &reportController{service: service, jwtSecret: jwtSecret}
}

func (c *reportController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/reports")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("/clinical-data", c.ClinicalData)
	h.Post("/family-clinical-data", c.FamilyClinicalData)
	h.Post("/biospecimen-data", c.BiospecimenData)
	h.Post("/file-manifest", c.FileManifest)
	h.Post("/file-manifest/stats", c.FileManifestStats)
	h.Post("/biospecimen-request", c.BiospecimenRequest)
	h.Post("/biospecimen-request/stats", c.BiospecimenRequestStats)
}

func (c *reportController) ClinicalData(ctx *fiber.Ctx) error {
	return c.workbook(ctx, reportconfig.ClinicalData)
}

func (c *reportController) FamilyClinicalData(ctx *fiber.Ctx) error {
	return c.workbook(ctx, reportconfig.FamilyClinicalData)
}

func (c *reportController) BiospecimenData(ctx *fiber.Ctx) error {
	return c.workbook(ctx, reportconfig.BiospecimenData)
}

func (c *reportController) workbook(ctx *fiber.Ctx, name string) error {
	req, err := parseReportRequest(ctx)
	if err != nil {
		return err
	}

	file, err := c.service.Generate(ctx.UserContext(), name, *req, caller(ctx))
	if err != nil {
		return err
	}
	return sendFile(ctx, file)
}

func (c *reportController) FileManifest(ctx *fiber.Ctx) error {
	req, err := parseReportRequest(ctx)
	if err != nil {
		return err
	}

	file, err := c.service.FileManifest(ctx.UserContext(), *req, caller(ctx))
	if err != nil {
		return err
	}
	return sendFile(ctx, file)
}

func (c *reportController) FileManifestStats(ctx *fiber.Ctx) error {
	req, err := parseReportRequest(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.FileManifestStats(ctx.UserContext(), *req, caller(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(res)
}

func (c *reportController) BiospecimenRequest(ctx *fiber.Ctx) error {
	req, err := parseReportRequest(ctx)
	if err != nil {
		return err
	}

	file, err := c.service.BiospecimenRequest(ctx.UserContext(), *req, caller(ctx))
	if err != nil {
		return err
	}
	return sendFile(ctx, file)
}

func (c *reportController) BiospecimenRequestStats(ctx *fiber.Ctx) error {
	req, err := parseReportRequest(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.BiospecimenRequestStats(ctx.UserContext(), *req, caller(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(res)
}

func parseReportRequest(ctx *fiber.Ctx) (*dto.ReportRequest, error) {
	var req dto.ReportRequest
	if err := ctx.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}
	return &req, nil
}

func caller(ctx *fiber.Ctx) dto.Caller {
	userID, _ := ctx.Locals(serverutils.LocalUserID).(string)
	token, _ := ctx.Locals(serverutils.LocalAccessToken).(string)
	return dto.Caller{UserID: userID, AccessToken: token}
}

func sendFile(ctx *fiber.Ctx, file *dto.ReportFile) error {
	ctx.Set(fiber.HeaderContentType, file.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	return ctx.Send(file.Data)
}
