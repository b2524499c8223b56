package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/config"
	"github.com/any-hub/sw-proxy/internal/logging"
	"github.com/any-hub/sw-proxy/internal/proxy"
	"github.com/any-hub/sw-proxy/internal/server"
	"github.com/any-hub/sw-proxy/internal/server/routes"
	"github.com/any-hub/sw-proxy/internal/version"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origins"] = config.OriginNames(cfg.Origins)
		fields["storage_backend"] = cfg.Global.StorageBackend
		fields["static_cache"] = cfg.Worker.StaticCache
		fields["dynamic_cache"] = cfg.Worker.DynamicCache
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer srv.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = config.OriginNames(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["app_name"] = cfg.Worker.AppName
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// worker 在后台安装与激活，期间所有请求直连上游。
	go startWorker(ctx, srv.worker, cfg.RetryPolicy(), logger)

	go func() {
		<-ctx.Done()
		_ = srv.app.Shutdown()
	}()

	if err := listen(srv.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("sw-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SW_PROXY_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SW_PROXY_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// proxyServer 聚合一次启动创建的长生命周期对象。
type proxyServer struct {
	app      *fiber.App
	worker   *worker.Worker
	storage  cache.Storage
	registry *server.OriginRegistry
}

// buildServer 按“Origin 注册表 → 缓存存储 → 上游客户端 → worker → Fiber app”顺序装配服务，
// 保证代理与诊断接口共享同一个 worker 与存储实例。
func buildServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*proxyServer, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Origin 注册表失败: %w", err)
	}

	storageOpts := cfg.StorageOptions()
	storageOpts.Logger = logger
	storage, err := cache.Open(ctx, storageOpts)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	upstream := proxy.NewUpstream(server.NewUpstreamClient(cfg), registry, logger)
	w, err := worker.New(cfg.WorkerSettings(), storage, upstream, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化 worker 失败: %w", err)
	}

	forwarder := proxy.NewForwarder(
		proxy.NewHandler(w, logger),
		proxy.NewPassthroughHandler(w, logger),
		w,
		logger,
	)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      forwarder,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, w, registry)
	routes.RegisterLifecycleRoutes(app, w, logger)

	return &proxyServer{app: app, worker: w, storage: storage, registry: registry}, nil
}

func (s *proxyServer) close() {
	s.worker.Wait()
	_ = s.storage.Close()
}

func startWorker(ctx context.Context, w *worker.Worker, policy worker.RetryPolicy, logger *logrus.Logger) {
	report, err := w.Start(ctx, policy)
	fields := logrus.Fields{"action": "worker_start", "attempts": policy.MaxAttempts}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.WithFields(fields).WithError(err).Error("worker 启动失败，继续以直连模式提供服务")
		return
	}
	fields["deleted"] = report.Deleted
	fields["kept"] = report.Kept
	logger.WithFields(fields).Info("worker 已接管请求")
}

func listen(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
