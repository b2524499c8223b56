package routes

import (
	"context"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/server"
	"github.com/any-hub/sw-proxy/internal/strategy"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// RegisterDiagnosticsRoutes 暴露只读诊断接口：策略表、缓存仓清单、Origin 绑定与 Prometheus 指标。
func RegisterDiagnosticsRoutes(app *fiber.App, w *worker.Worker, registry *server.OriginRegistry) {
	if app == nil || w == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies":      encodeStrategies(strategy.List()),
			"static_suffixes": w.Config().StaticSuffixes,
			"manifest":        w.Assets(),
		})
	})

	app.Get("/-/stores", func(c fiber.Ctx) error {
		stores, err := describeStores(c.Context(), w)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_list_failed"})
		}
		return c.JSON(fiber.Map{"stores": stores})
	})

	app.Get("/-/origins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"origins": encodeOrigins(registry)})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

type strategyPayload struct {
	Key          string `json:"key"`
	Description  string `json:"description"`
	StoreRole    string `json:"store_role"`
	Fallback     string `json:"fallback"`
	NetworkOnHit bool   `json:"network_on_hit"`
}

type storePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Proxy    string `json:"proxy,omitempty"`
	Port     int    `json:"port"`
	Primary  bool   `json:"primary"`
}

func encodeStrategies(metas []strategy.Metadata) []strategyPayload {
	result := make([]strategyPayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, strategyPayload{
			Key:          string(meta.Key),
			Description:  meta.Description,
			StoreRole:    string(meta.StoreRole),
			Fallback:     meta.Fallback,
			NetworkOnHit: meta.NetworkOnHit,
		})
	}
	return result
}

// describeStores 按创建顺序列出缓存仓及条目数，并标注是否属于当前代。
func describeStores(ctx context.Context, w *worker.Worker) ([]storePayload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	storage := w.Storage()
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{})
	for _, name := range w.Config().CurrentCaches() {
		current[name] = struct{}{}
	}

	result := make([]storePayload, 0, len(names))
	for _, name := range names {
		entries, err := countEntries(ctx, storage, name)
		if err != nil {
			return nil, err
		}
		_, isCurrent := current[name]
		result = append(result, storePayload{Name: name, Entries: entries, Current: isCurrent})
	}
	return result, nil
}

func countEntries(ctx context.Context, storage cache.Storage, name string) (int, error) {
	store, err := storage.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func encodeOrigins(registry *server.OriginRegistry) []originPayload {
	if registry == nil {
		return nil
	}
	routes := registry.List()
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Primary != routes[j].Primary {
			return routes[i].Primary
		}
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		item := originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.Config.Upstream,
			Port:     route.ListenPort,
			Primary:  route.Primary,
		}
		if route.ProxyURL != nil {
			item.Proxy = route.ProxyURL.Redacted()
		}
		result = append(result, item)
	}
	return result
}
