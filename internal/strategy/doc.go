// Package strategy 定义 worker 可用的三种取数策略，并提供纯函数式的请求分类器。
//
// 分类只依赖请求 URL 与声明的 destination，按以下优先级判断：
//  1. URL 命中静态清单，或路径以静态后缀（默认 .css/.js）结尾 → cache-first；
//  2. destination 为 image → network-first-image；
//  3. 其余请求 → network-first。
//
// 包内同时维护策略元数据注册表，供诊断接口展示各策略的存储角色与回退方式。
package strategy
