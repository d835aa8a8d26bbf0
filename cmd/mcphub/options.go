package main

import "time"

type Options struct {
	ConfigURL string        `short:"f" long:"config" description:"server config file" required:"true"`
	Tool      string        `short:"t" long:"tool" description:"tool to call as serverID/toolName"`
	Args      string        `short:"a" long:"args" description:"tool arguments as JSON"`
	Match     string        `short:"m" long:"match" description:"tool name glob, optionally serverID/pattern"`
	Timeout   time.Duration `long:"timeout" description:"tool call timeout" default:"30s"`
	TokensURL string        `long:"tokens" description:"token store location"`
	Key       string        `short:"k" long:"key" description:"encryption key for the token store"`
	Verbose   bool          `short:"v" long:"verbose" description:"log connection events"`
}
