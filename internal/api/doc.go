// Package api 通过 REST 接口暴露画布编辑、运行回放与通知查询，并在 /metrics 暴露 Prometheus 指标。
package api
