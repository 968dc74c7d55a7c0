// Package deploy drives templates through the remote provisioning
// backend: analyze, fix, submit, poll to a terminal stack state,
// correlate failures back to resources, and retry with targeted fixes
// under a bounded iteration budget. One orchestration run is strictly
// sequential per target; runs against different targets are independent.
package deploy
