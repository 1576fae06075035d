package main

import "github.com/KaramelBytes/equipstat/cmd"

func main() {
	cmd.Execute()
}
