package worker

import "errors"

var (
	// ErrNotCached 表示网络失败且没有可用的缓存副本，调用方应视为请求失败。
	ErrNotCached = errors.New("network failed and no cached response")
	// ErrInstallFailed 表示安装阶段任一清单资源获取失败，静态缓存未被写入。
	ErrInstallFailed = errors.New("install failed")
	// ErrNotInstalled 表示尚未安装成功就尝试激活。
	ErrNotInstalled = errors.New("worker not installed")
	// ErrLifecycleBusy 表示另一个安装或激活正在进行。
	ErrLifecycleBusy = errors.New("lifecycle transition in progress")
	// ErrUnknownSyncTag 表示没有为该 tag 注册同步处理器。
	ErrUnknownSyncTag = errors.New("unknown sync tag")
)
