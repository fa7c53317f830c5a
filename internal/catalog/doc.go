// Package catalog 提供工具（subnet）与智能体详情的获取能力，供画布在乐观插入节点后补全数据。
//
// 默认实现通过 HTTP 访问智能体平台的详情接口，也可以从本地 JSON 文件加载静态目录用于离线演示与测试。
package catalog
