// Package reconcile 将执行端推送的异构状态事件归一化为统一的步骤，并按首次出现顺序折叠为一次运行的结果集。
//
// 事件在传输边界先被解码为有限的几类（状态、错误、未知），之后由 Normalizer 提取名称、状态、消息、
// 图片与文件，最后由 Reconciler 维护记录表、首次出现顺序的账本、当前步骤指针以及运行状态。
// 可链接的输出写入按运行隔离的 OutputStore，不同运行之间互不可见。
package reconcile
