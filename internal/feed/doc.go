// Package feed 从消息队列接收执行端的事件与终态信号，并按运行分片顺序投递给运行服务。
//
// 支持三种队列：进程内 channel、Redis list（LPUSH/BRPOP）与 RabbitMQ（手动确认）。
package feed
