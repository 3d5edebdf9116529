package main

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	Execute()
}
