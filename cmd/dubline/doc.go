// Package main hosts the dubline CLI entrypoint and command graph.
//
// Every job command talks to a running daemon over its HTTP API; only
// `dubline daemon`, `dubline config`, and `dubline deps` work without one.
package main
