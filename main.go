package main

import "github.com/introVRt-Lounge/hello-dalle-discordbot/cmd"

func main() {
	cmd.Execute()
}
