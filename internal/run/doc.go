// Package run 管理执行运行：每个运行 id 对应一个 Reconciler 与一个运行隔离的输出存储，
// 运行到达终态时将快照写入归档。
package run
