package routes

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/server"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// RegisterLifecycleRoutes 暴露生命周期管理接口，允许运维手动重新安装、激活或触发后台同步。
func RegisterLifecycleRoutes(app *fiber.App, w *worker.Worker, logger *logrus.Logger) {
	if app == nil || w == nil {
		return
	}

	app.Get("/-/lifecycle", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    w.Status(),
			"sync_tags": w.SyncTags(),
		})
	})

	app.Post("/-/lifecycle/install", func(c fiber.Ctx) error {
		if err := w.Install(c.Context()); err != nil {
			logAdminError(logger, c, "install", err)
			return writeLifecycleError(c, err)
		}
		return c.JSON(fiber.Map{"status": w.Status()})
	})

	app.Post("/-/lifecycle/activate", func(c fiber.Ctx) error {
		report, err := w.Activate(c.Context())
		if err != nil {
			logAdminError(logger, c, "activate", err)
			return writeLifecycleError(c, err)
		}
		return c.JSON(fiber.Map{"status": w.Status(), "report": report})
	})

	app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		if tag == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
		}
		if err := w.Sync(c.Context(), tag); err != nil {
			logAdminError(logger, c, "sync", err)
			return writeLifecycleError(c, err)
		}
		return c.JSON(fiber.Map{"tag": tag, "result": "ok"})
	})
}

// writeLifecycleError 把 worker 的哨兵错误映射为 HTTP 状态码。
func writeLifecycleError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, worker.ErrLifecycleBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "lifecycle_busy"})
	case errors.Is(err, worker.ErrNotInstalled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_installed"})
	case errors.Is(err, worker.ErrUnknownSyncTag):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_sync_tag"})
	case errors.Is(err, worker.ErrInstallFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "install_failed", "detail": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lifecycle_failed", "detail": err.Error()})
	}
}

func logAdminError(logger *logrus.Logger, c fiber.Ctx, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
		"error":      err.Error(),
	}).Warn("admin_request_failed")
}
