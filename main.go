package main

import "storyboard/cmd"

// version is injected via ldflags: go build -ldflags "-X main.version=1.0.0"
var version = "dev"

func main() {
	cmd.Execute(version)
}
