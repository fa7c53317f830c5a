// Package editor 维护画布上的节点与连线，处理拖放插入、删除重连、手动连线、容器折叠与尺寸自适应。
//
// Editor 的所有变更都在同一把互斥锁内完成，异步补全（详情获取）结束后重新进入同一把锁修补节点。
// 补全失败不会移除节点，而是将其降级为错误态；用户输入被拒绝时图保持不变，并通过通知渠道提示。
package editor
